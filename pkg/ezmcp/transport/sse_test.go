package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezmcp/pkg/ezmcp/protocol"
)

// orderedHandler echoes each request's ID so tests can check response order
type orderedHandler struct{}

func (orderedHandler) HandleRequest(_ context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	return protocol.NewResponse(req.ID, map[string]interface{}{"method": req.Method})
}

func newSSETestServer(t *testing.T, handler RequestHandler) (*SSETransport, *httptest.Server) {
	t.Helper()

	tr := NewSSETransport(&SSEConfig{HeartbeatInterval: time.Minute})
	tr.SetHandler(handler)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", tr.HandleSSE)
	mux.HandleFunc("/messages", tr.HandleMessages)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return tr, srv
}

// readEvent reads one SSE frame off the stream
func readEvent(t *testing.T, reader *bufio.Reader) (eventType, data string) {
	t.Helper()

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if data != "" {
				return eventType, data
			}
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openSession(t *testing.T, srv *httptest.Server) (*bufio.Reader, string, func()) {
	t.Helper()

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	eventType, endpoint := readEvent(t, reader)
	require.Equal(t, "endpoint", eventType)
	require.True(t, strings.HasPrefix(endpoint, "/messages?session_id="), "endpoint was %q", endpoint)

	u, err := url.Parse(endpoint)
	require.NoError(t, err)
	sessionID := u.Query().Get("session_id")
	require.NotEmpty(t, sessionID)

	return reader, sessionID, func() { _ = resp.Body.Close() }
}

func postMessage(t *testing.T, srv *httptest.Server, sessionID string, id int) *http.Response {
	t.Helper()

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, id)
	resp, err := http.Post(
		srv.URL+"/messages?session_id="+url.QueryEscape(sessionID),
		"application/json",
		bytes.NewReader([]byte(body)),
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestSSEHandshakeAndResponse(t *testing.T) {
	tr, srv := newSSETestServer(t, orderedHandler{})

	reader, sessionID, closeStream := openSession(t, srv)
	defer closeStream()

	assert.Equal(t, 1, tr.SessionCount())

	resp := postMessage(t, srv, sessionID, 1)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	eventType, data := readEvent(t, reader)
	assert.Equal(t, "message", eventType)

	var rpcResp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(data), &rpcResp))
	assert.EqualValues(t, 1, rpcResp.ID)
	assert.Nil(t, rpcResp.Error)
}

func TestSSEResponsesArriveInPostOrder(t *testing.T) {
	_, srv := newSSETestServer(t, orderedHandler{})

	reader, sessionID, closeStream := openSession(t, srv)
	defer closeStream()

	for i := 1; i <= 5; i++ {
		resp := postMessage(t, srv, sessionID, i)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	for i := 1; i <= 5; i++ {
		eventType, data := readEvent(t, reader)
		require.Equal(t, "message", eventType)

		var rpcResp protocol.JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(data), &rpcResp))
		assert.EqualValues(t, i, rpcResp.ID, "responses must arrive in POST order")
	}
}

func TestSSEUnknownSession(t *testing.T) {
	_, srv := newSSETestServer(t, orderedHandler{})

	resp, err := http.Post(
		srv.URL+"/messages?session_id=no-such-session",
		"application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEMissingSessionID(t *testing.T) {
	_, srv := newSSETestServer(t, orderedHandler{})

	resp, err := http.Post(srv.URL+"/messages", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSSESessionsAreIndependent(t *testing.T) {
	tr, srv := newSSETestServer(t, orderedHandler{})

	reader1, session1, close1 := openSession(t, srv)
	defer close1()
	_, session2, close2 := openSession(t, srv)
	defer close2()

	require.NotEqual(t, session1, session2)
	assert.Equal(t, 2, tr.SessionCount())

	// A message on session 1 produces an event only on stream 1
	postMessage(t, srv, session1, 42)
	eventType, data := readEvent(t, reader1)
	assert.Equal(t, "message", eventType)

	var rpcResp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(data), &rpcResp))
	assert.EqualValues(t, 42, rpcResp.ID)
}

func TestSSEStopClosesSessions(t *testing.T) {
	tr, srv := newSSETestServer(t, orderedHandler{})

	_, _, closeStream := openSession(t, srv)
	defer closeStream()

	require.NoError(t, tr.Stop())
	assert.Equal(t, 0, tr.SessionCount())
}
