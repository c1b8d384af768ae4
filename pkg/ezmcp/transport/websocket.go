package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ezmcp/pkg/ezmcp/protocol"
)

// WebSocketConfig contains configuration for the WebSocket transport
type WebSocketConfig struct {
	// Address to listen on in standalone mode
	Address string

	// Path to handle WebSocket upgrades (default: "/ws")
	Path string

	ReadBufferSize  int
	WriteBufferSize int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration

	// Maximum message size (default: 10MB)
	MaxMessageSize int64

	// Check origin function (default: allow all)
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// DefaultWebSocketConfig returns a WebSocket transport configuration with defaults
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		Path:             "/ws",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		MaxMessageSize:   10 * 1024 * 1024,
	}
}

// WebSocketTransport carries JSON-RPC over a bidirectional WebSocket. Each
// connection handles its messages sequentially in arrival order, mirroring
// the per-session ordering of the SSE transport.
type WebSocketTransport struct {
	config   *WebSocketConfig
	server   *http.Server
	upgrader *websocket.Upgrader
	handler  RequestHandler
	logger   *slog.Logger
	mu       sync.RWMutex
	running  bool

	connections map[*websocket.Conn]bool
	connMu      sync.RWMutex
}

// NewWebSocketTransport creates a new WebSocket transport
func NewWebSocketTransport(config *WebSocketConfig) *WebSocketTransport {
	if config == nil {
		config = DefaultWebSocketConfig()
	}
	if config.Path == "" {
		config.Path = "/ws"
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 4096
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 4096
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = 10 * 1024 * 1024
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = func(r *http.Request) bool { return true }
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocketTransport{
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin:      config.CheckOrigin,
		},
		logger:      logger,
		connections: make(map[*websocket.Conn]bool),
	}
}

// SetHandler binds the request handler. Required before mounting the
// transport on an external router; Start sets it implicitly.
func (t *WebSocketTransport) SetHandler(handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start starts the transport with its own HTTP server
func (t *WebSocketTransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("transport already running")
	}

	t.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc(t.config.Path, t.HandleWebSocket)

	t.server = &http.Server{
		Addr:    t.config.Address,
		Handler: mux,
	}

	t.running = true

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("websocket transport stopped", "error", err)
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
		}
	}()

	go func() {
		<-ctx.Done()
		if err := t.Stop(); err != nil {
			t.logger.Error("websocket transport shutdown failed", "error", err)
		}
	}()

	return nil
}

// Stop stops the transport and closes all connections
func (t *WebSocketTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running && t.server == nil {
		return nil
	}
	t.running = false

	t.connMu.Lock()
	for conn := range t.connections {
		_ = conn.Close()
	}
	t.connections = make(map[*websocket.Conn]bool)
	t.connMu.Unlock()

	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// ConnectionCount returns the number of active connections
func (t *WebSocketTransport) ConnectionCount() int {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return len(t.connections)
}

// HandleWebSocket upgrades the request and serves the connection. Mountable
// on any router.
func (t *WebSocketTransport) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		http.Error(w, "Transport not bound", http.StatusServiceUnavailable)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.connMu.Lock()
	t.connections[conn] = true
	t.connMu.Unlock()

	ctx := ContextWithHeaders(context.Background(), r.Header.Clone())
	go t.handleConnection(ctx, handler, conn)
}

// handleConnection reads messages off one connection and answers them in order
func (t *WebSocketTransport) handleConnection(ctx context.Context, handler RequestHandler, conn *websocket.Conn) {
	defer func() {
		t.connMu.Lock()
		delete(t.connections, conn)
		t.connMu.Unlock()
		_ = conn.Close()
	}()

	conn.SetReadLimit(t.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	})

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	// Writes come from both the reader goroutine (responses) and the ping
	// loop; the connection allows only one writer at a time.
	var writeMu sync.Mutex
	send := func(resp *protocol.JSONRPCResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
		return conn.WriteJSON(resp)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var req protocol.JSONRPCRequest
			if err := json.Unmarshal(message, &req); err != nil {
				_ = send(protocol.NewErrorResponse(nil, protocol.ParseError, "Invalid JSON", nil))
				continue
			}

			resp := handler.HandleRequest(ctx, &req)
			if err := send(resp); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
