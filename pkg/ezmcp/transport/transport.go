// Package transport implements the wire layers that carry JSON-RPC requests
// into an ezmcp server: plain HTTP POST, SSE session streams, and WebSocket.
// Every transport delegates request handling to a RequestHandler and can run
// either standalone (Start/Stop with its own http.Server) or mounted on an
// application router.
package transport

import (
	"context"
	"net/http"

	"ezmcp/pkg/ezmcp/protocol"
)

// Transport defines the interface for standalone transport layers
type Transport interface {
	Start(ctx context.Context, handler RequestHandler) error
	Stop() error
}

// RequestHandler defines the interface for handling JSON-RPC requests
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse
}

type headersKey struct{}

// ContextWithHeaders attaches the HTTP headers of the carrying request to the
// context so middleware behind the transport (auth, rate limiting) can read
// them without knowing which transport delivered the request.
func ContextWithHeaders(ctx context.Context, headers http.Header) context.Context {
	return context.WithValue(ctx, headersKey{}, headers)
}

// HeadersFromContext returns the HTTP headers attached by the transport, if any
func HeadersFromContext(ctx context.Context) (http.Header, bool) {
	headers, ok := ctx.Value(headersKey{}).(http.Header)
	return headers, ok
}
