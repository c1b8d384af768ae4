package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer("test-server", "1.0.0", nil)

	descriptor := mustDescriptor(t, "add",
		schema.Required("a", schema.TypeInteger, "first"),
		schema.Optional("b", schema.TypeInteger, 0, "second"),
	)
	handler := protocol.ToolHandlerFunc(func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return protocol.NewTextContent(fmt.Sprintf("Result: %d", args["a"].(int)+args["b"].(int))), nil
	})
	require.NoError(t, s.RegisterTool(descriptor, handler))

	return s
}

func toolCallResult(t *testing.T, resp *protocol.JSONRPCResponse) *protocol.ToolCallResult {
	t.Helper()

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)

	var result protocol.ToolCallResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return &result
}

func TestServerInitialize(t *testing.T) {
	s := newTestServer(t)
	assert.False(t, s.IsInitialized())

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": protocol.Version,
			"clientInfo":      map[string]interface{}{"name": "test", "version": "0.0.1"},
		},
	})

	require.Nil(t, resp.Error)
	assert.True(t, s.IsInitialized())

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "test-server", result.ServerInfo.Name)
	assert.Equal(t, protocol.Version, result.ProtocolVersion)
	require.NotNil(t, result.Capabilities.Tools)
}

func TestServerToolsList(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/list",
	})

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)

	tools, ok := result["tools"].([]protocol.Tool)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)
	assert.NotNil(t, tools[0].InputSchema)
}

func TestServerToolsCall(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      "add",
			"arguments": map[string]interface{}{"a": 5, "b": 3},
		},
	})

	result := toolCallResult(t, resp)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "Result: 8", result.Content[0].Text)
}

func TestServerToolsCallMissingArgumentIsToolError(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      4,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      "add",
			"arguments": map[string]interface{}{},
		},
	})

	// A binding failure is a structured tool error, not a protocol error:
	// the session stays usable
	result := toolCallResult(t, resp)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, `"a"`)
}

func TestServerToolsCallUnknownTool(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      5,
		Method:  "tools/call",
		Params:  map[string]interface{}{"name": "nope"},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}

func TestServerUnknownMethod(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      6,
		Method:  "resources/list",
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}

func TestServerPing(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      7,
		Method:  "ping",
	})

	require.Nil(t, resp.Error)
}

func TestServerMiddlewareWrapsRequests(t *testing.T) {
	s := newTestServer(t)

	var methods []string
	s.Use(MiddlewareFunc(func(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (*protocol.JSONRPCResponse, error) {
		methods = append(methods, req.Method)
		return next(ctx, req)
	}))

	s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})

	assert.Equal(t, []string{"ping", "tools/list"}, methods)
}

func TestServerMiddlewareErrorBecomesResponse(t *testing.T) {
	s := newTestServer(t)
	s.Use(MiddlewareFunc(func(_ context.Context, _ *protocol.JSONRPCRequest, _ Handler) (*protocol.JSONRPCResponse, error) {
		return nil, fmt.Errorf("chain failure")
	}))

	resp := s.HandleRequest(context.Background(), &protocol.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
}
