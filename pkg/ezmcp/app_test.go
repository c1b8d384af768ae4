package ezmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezmcp/internal/config"
	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
	"ezmcp/pkg/ezmcp/server"
)

func newAddApp(t *testing.T) *App {
	t.Helper()

	app := New("test-app")
	err := app.ToolFunc("add", "Add two numbers together",
		[]schema.Param{
			schema.Required("a", schema.TypeInteger, "first"),
			schema.Optional("b", schema.TypeInteger, 0, "second"),
		},
		func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return protocol.NewTextContent(fmt.Sprintf("Result: %d", args["a"].(int)+args["b"].(int))), nil
		})
	require.NoError(t, err)
	return app
}

func TestNewDefaults(t *testing.T) {
	app := New("my-app")

	assert.Equal(t, "my-app", app.Name())
	assert.Equal(t, "/sse", app.SSEPath())
	assert.Equal(t, "/messages", app.MessagePath())
	assert.False(t, app.Debug())
}

func TestNewWithOptions(t *testing.T) {
	app := New("custom",
		WithVersion("2.0.0"),
		WithDebug(true),
		WithSSEPaths("/stream", "/inbox"),
	)

	assert.Equal(t, "2.0.0", app.Version())
	assert.True(t, app.Debug())
	assert.Equal(t, "/stream", app.SSEPath())
	assert.Equal(t, "/inbox", app.MessagePath())
}

func TestNewWithConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Debug = true
	cfg.SSE.SSEPath = "/stream"
	cfg.SSE.MessagePath = "/inbox"
	cfg.SSE.MaxSessions = 5

	app := New("configured", WithConfig(cfg))

	assert.Equal(t, "/stream", app.SSEPath())
	assert.Equal(t, "/inbox", app.MessagePath())
	assert.True(t, app.Debug())
	assert.True(t, app.logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewWithConfigRedisRateLimiter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	app := New("limited", WithConfig(cfg))
	assert.Equal(t, 1, app.server.Pipeline().Len())

	// The limiter backend is unreachable; throttling degrades open
	resp := app.HandleRequest(context.Background(), &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	assert.Nil(t, resp.Error)
}

func TestWithDebugEnablesDebugLogging(t *testing.T) {
	app := New("quiet")
	assert.False(t, app.logger.Enabled(context.Background(), slog.LevelDebug))

	app = New("chatty", WithDebug(true))
	assert.True(t, app.logger.Enabled(context.Background(), slog.LevelDebug))

	// An explicit logger wins over debug mode
	custom := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	app = New("custom", WithDebug(true), WithLogger(custom))
	assert.False(t, app.logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestAppToolRegistration(t *testing.T) {
	app := newAddApp(t)

	tools := app.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)
	assert.Equal(t, "Add two numbers together", tools[0].Description)

	// Duplicate names fail fast
	err := app.ToolFunc("add", "again", nil, func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	var dup *server.DuplicateToolError
	assert.True(t, errors.As(err, &dup))
}

func TestAppToolUnsupportedType(t *testing.T) {
	app := New("bad-types")

	err := app.ToolFunc("weird", "",
		[]schema.Param{schema.Required("x", schema.TypeTag("tuple"), "")},
		func(_ context.Context, _ map[string]interface{}) (interface{}, error) { return nil, nil })
	require.Error(t, err)

	var ute *schema.UnsupportedTypeError
	require.True(t, errors.As(err, &ute))
	assert.Equal(t, "x", ute.Param)
}

func TestAppHandleRequest(t *testing.T) {
	app := newAddApp(t)

	resp := app.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      "add",
			"arguments": map[string]interface{}{"a": 5},
		},
	})

	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result protocol.ToolCallResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.IsError)
	assert.Equal(t, "Result: 5", result.Content[0].Text)
}

func TestAppMiddlewareOrder(t *testing.T) {
	app := newAddApp(t)

	var trace []string
	app.Middleware(func(ctx context.Context, req *protocol.JSONRPCRequest, next server.Handler) (*protocol.JSONRPCResponse, error) {
		trace = append(trace, "first:pre")
		resp, err := next(ctx, req)
		trace = append(trace, "first:post")
		return resp, err
	})
	app.AddMiddleware(server.MiddlewareFunc(func(ctx context.Context, req *protocol.JSONRPCRequest, next server.Handler) (*protocol.JSONRPCResponse, error) {
		trace = append(trace, "second:pre")
		resp, err := next(ctx, req)
		trace = append(trace, "second:post")
		return resp, err
	}))

	app.HandleRequest(context.Background(), &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})

	assert.Equal(t, []string{"first:pre", "second:pre", "second:post", "first:post"}, trace)
}

func TestAppHandlerRoutes(t *testing.T) {
	app := newAddApp(t)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var health map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health["status"])
		assert.Equal(t, "test-app", health["name"])
		assert.EqualValues(t, 1, health["tools"])
	})

	t.Run("openapi", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/openapi.json")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var doc map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
		assert.Equal(t, "3.0.3", doc["openapi"])
	})

	t.Run("docs", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/docs")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "add")
	})

	t.Run("rpc", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":9,"method":"tools/list"}`
		resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var rpcResp protocol.JSONRPCResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
		assert.Nil(t, rpcResp.Error)
	})
}
