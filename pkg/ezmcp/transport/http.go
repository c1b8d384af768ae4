package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ezmcp/pkg/ezmcp/protocol"
)

// HTTPConfig contains configuration for the HTTP transport
type HTTPConfig struct {
	// Address to listen on in standalone mode (e.g., ":8080")
	Address string

	// TLS configuration (optional)
	TLSConfig *tls.Config

	// Read/write timeouts for the standalone server
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Maximum request body size (default: 10MB)
	MaxBodySize int64

	// Path to handle requests (default: "/rpc")
	Path string

	Logger *slog.Logger
}

// DefaultHTTPConfig returns an HTTP transport configuration with defaults
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxBodySize:  10 * 1024 * 1024,
		Path:         "/rpc",
	}
}

// HTTPTransport carries JSON-RPC over plain request/response HTTP: one POST,
// one JSON body in, one JSON body out. It is the simplest transport and the
// one tests exercise directly.
type HTTPTransport struct {
	config  *HTTPConfig
	server  *http.Server
	handler RequestHandler
	logger  *slog.Logger
	mu      sync.RWMutex
	running bool
}

// NewHTTPTransport creates a new HTTP transport
func NewHTTPTransport(config *HTTPConfig) *HTTPTransport {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 10 * 1024 * 1024
	}
	if config.Path == "" {
		config.Path = "/rpc"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{
		config: config,
		logger: logger,
	}
}

// SetHandler binds the request handler. Required before mounting the
// transport on an external router; Start sets it implicitly.
func (t *HTTPTransport) SetHandler(handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start starts the transport with its own HTTP server
func (t *HTTPTransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("transport already running")
	}

	t.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc(t.config.Path, t.HandleRPC)

	t.server = &http.Server{
		Addr:         t.config.Address,
		Handler:      mux,
		ReadTimeout:  t.config.ReadTimeout,
		WriteTimeout: t.config.WriteTimeout,
		IdleTimeout:  t.config.IdleTimeout,
		TLSConfig:    t.config.TLSConfig,
	}

	t.running = true

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("http transport stopped", "error", err)
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
		}
	}()

	go func() {
		<-ctx.Done()
		if err := t.Stop(); err != nil {
			t.logger.Error("http transport shutdown failed", "error", err)
		}
	}()

	return nil
}

// Stop stops the transport
func (t *HTTPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false

	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// IsRunning reports whether the standalone server is running
func (t *HTTPTransport) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// HandleRPC handles a single JSON-RPC request carried in an HTTP POST body.
// Mountable on any router.
func (t *HTTPTransport) HandleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		http.Error(w, "Transport not bound", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, t.config.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, nil, protocol.ParseError, "Failed to read request body")
		return
	}

	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, protocol.ParseError, "Invalid JSON")
		return
	}

	ctx := ContextWithHeaders(r.Context(), r.Header)
	resp := handler.HandleRequest(ctx, &req)
	writeRPCResponse(w, t.logger, resp)
}

func writeRPCResponse(w http.ResponseWriter, logger *slog.Logger, resp *protocol.JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeRPCError reports a protocol-level failure. The HTTP status stays 200;
// the error lives in the JSON-RPC body.
func writeRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := protocol.NewErrorResponse(id, code, message, nil)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
