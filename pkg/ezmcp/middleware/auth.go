// Package middleware ships stock interceptors for ezmcp applications: API key
// authentication and rate limiting. All of them implement server.Middleware
// and read transport metadata from the request context, so they work the same
// over HTTP, SSE, and WebSocket.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/server"
	"ezmcp/pkg/ezmcp/transport"
)

// Unauthorized is the JSON-RPC error code returned when authentication fails
const Unauthorized = -32001

// APIKeyAuth authenticates requests by API key. Keys are stored as bcrypt
// hashes; the plaintext key is read from the Authorization header (Bearer
// scheme) or the X-API-Key header of the carrying request. Methods listed in
// Exempt pass through without a key.
type APIKeyAuth struct {
	mu     sync.RWMutex
	hashes map[string][]byte
	exempt map[string]bool
	logger *slog.Logger
}

// NewAPIKeyAuth creates an API key authenticator. The initialize and ping
// methods are exempt by default so clients can handshake before presenting
// credentials.
func NewAPIKeyAuth(logger *slog.Logger) *APIKeyAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyAuth{
		hashes: make(map[string][]byte),
		exempt: map[string]bool{
			"initialize": true,
			"ping":       true,
		},
		logger: logger,
	}
}

// AddKey hashes and stores an API key under the given client ID
func (a *APIKeyAuth) AddKey(clientID, key string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[clientID] = hash
	return nil
}

// RevokeKey removes a client's API key
func (a *APIKeyAuth) RevokeKey(clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.hashes, clientID)
}

// Exempt marks methods that bypass authentication
func (a *APIKeyAuth) Exempt(methods ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range methods {
		a.exempt[m] = true
	}
}

// Process implements the server.Middleware interface
func (a *APIKeyAuth) Process(ctx context.Context, req *protocol.JSONRPCRequest, next server.Handler) (*protocol.JSONRPCResponse, error) {
	a.mu.RLock()
	exempt := a.exempt[req.Method]
	a.mu.RUnlock()
	if exempt {
		return next(ctx, req)
	}

	key := extractKey(ctx)
	if key == "" {
		return protocol.NewErrorResponse(req.ID, Unauthorized, "API key required", nil), nil
	}

	if !a.verify(key) {
		a.logger.WarnContext(ctx, "rejected request with invalid api key",
			"method", req.Method)
		return protocol.NewErrorResponse(req.ID, Unauthorized, "Invalid API key", nil), nil
	}

	return next(ctx, req)
}

// verify checks the presented key against every stored hash. bcrypt
// comparison is constant-time per hash.
func (a *APIKeyAuth) verify(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// extractKey pulls the API key out of the transport headers
func extractKey(ctx context.Context) string {
	headers, ok := transport.HeadersFromContext(ctx)
	if !ok {
		return ""
	}

	if auth := headers.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return headers.Get("X-API-Key")
}
