package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"ezmcp/pkg/ezmcp/protocol"
)

// SSEConfig contains configuration for the SSE session transport
type SSEConfig struct {
	// Address to listen on in standalone mode
	Address string

	// Path clients connect to for the event stream (default: "/sse")
	SSEPath string

	// Path clients POST JSON-RPC messages to (default: "/messages")
	MessagePath string

	// Heartbeat comment interval to keep idle streams alive
	HeartbeatInterval time.Duration

	// Maximum number of concurrent sessions
	MaxSessions int

	// Pending requests buffered per session before POSTs are rejected
	QueueSize int

	// Outbound events buffered per session
	EventBufferSize int

	Logger *slog.Logger
}

// DefaultSSEConfig returns an SSE transport configuration with defaults
func DefaultSSEConfig() *SSEConfig {
	return &SSEConfig{
		SSEPath:           "/sse",
		MessagePath:       "/messages",
		HeartbeatInterval: 30 * time.Second,
		MaxSessions:       1000,
		QueueSize:         64,
		EventBufferSize:   64,
	}
}

// sseEvent is one frame on a session stream. Data is pre-serialized so the
// writer loop never fails on marshaling.
type sseEvent struct {
	Type string
	Data string
}

// session is one connected SSE client. Requests POSTed against the session
// are queued on requests and consumed by a single goroutine, so responses for
// a session are produced strictly in arrival order even though sessions run
// concurrently with each other.
type session struct {
	id        string
	requests  chan *sessionRequest
	events    chan *sseEvent
	done      chan struct{}
	closeOnce sync.Once
}

// sessionRequest pairs a queued JSON-RPC request with the headers of the POST
// that delivered it.
type sessionRequest struct {
	req     *protocol.JSONRPCRequest
	headers http.Header
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// SSETransport implements the SSE session transport: a long-lived GET opens a
// session stream whose first event tells the client where to POST messages,
// and every response is pushed back over the stream as a "message" event.
type SSETransport struct {
	config  *SSEConfig
	server  *http.Server
	handler RequestHandler
	logger  *slog.Logger
	mu      sync.RWMutex
	running bool

	sessions  map[string]*session
	sessionMu sync.RWMutex
}

// NewSSETransport creates a new SSE transport
func NewSSETransport(config *SSEConfig) *SSETransport {
	if config == nil {
		config = DefaultSSEConfig()
	}
	if config.SSEPath == "" {
		config.SSEPath = "/sse"
	}
	if config.MessagePath == "" {
		config.MessagePath = "/messages"
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.MaxSessions == 0 {
		config.MaxSessions = 1000
	}
	if config.QueueSize == 0 {
		config.QueueSize = 64
	}
	if config.EventBufferSize == 0 {
		config.EventBufferSize = 64
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SSETransport{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// SetHandler binds the request handler. Required before mounting the
// transport on an external router; Start sets it implicitly.
func (t *SSETransport) SetHandler(handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start starts the transport with its own HTTP server
func (t *SSETransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("transport already running")
	}

	t.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc(t.config.SSEPath, t.HandleSSE)
	mux.HandleFunc(t.config.MessagePath, t.HandleMessages)

	t.server = &http.Server{
		Addr:    t.config.Address,
		Handler: mux,
		// No write timeout: session streams are long-lived
		WriteTimeout: 0,
		ReadTimeout:  30 * time.Second,
	}

	t.running = true

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("sse transport stopped", "error", err)
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
		}
	}()

	go func() {
		<-ctx.Done()
		if err := t.Stop(); err != nil {
			t.logger.Error("sse transport shutdown failed", "error", err)
		}
	}()

	return nil
}

// Stop stops the transport and disconnects all sessions
func (t *SSETransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false

	t.sessionMu.Lock()
	for _, s := range t.sessions {
		s.close()
	}
	t.sessions = make(map[string]*session)
	t.sessionMu.Unlock()

	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// SessionCount returns the number of connected sessions
func (t *SSETransport) SessionCount() int {
	t.sessionMu.RLock()
	defer t.sessionMu.RUnlock()
	return len(t.sessions)
}

// HandleSSE opens a session stream. The first event on the stream is an
// "endpoint" event whose data is the message path with the session ID baked
// in; everything after that is "message" events carrying JSON-RPC responses.
// Mountable on any router.
func (t *SSETransport) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		http.Error(w, "Transport not bound", http.StatusServiceUnavailable)
		return
	}

	t.sessionMu.RLock()
	count := len(t.sessions)
	t.sessionMu.RUnlock()
	if count >= t.config.MaxSessions {
		http.Error(w, "Maximum sessions reached", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s := &session{
		id:       uuid.NewString(),
		requests: make(chan *sessionRequest, t.config.QueueSize),
		events:   make(chan *sseEvent, t.config.EventBufferSize),
		done:     make(chan struct{}),
	}

	t.sessionMu.Lock()
	t.sessions[s.id] = s
	t.sessionMu.Unlock()

	defer func() {
		s.close()
		t.sessionMu.Lock()
		delete(t.sessions, s.id)
		t.sessionMu.Unlock()
	}()

	t.logger.Debug("sse session opened", "session_id", s.id)

	endpoint := fmt.Sprintf("%s?session_id=%s", t.config.MessagePath, url.QueryEscape(s.id))
	if err := writeSSEEvent(w, flusher, &sseEvent{Type: "endpoint", Data: endpoint}); err != nil {
		return
	}

	// One consumer per session: requests are handled strictly in the order
	// they were POSTed, and their responses hit the stream in that order.
	go t.consumeSession(r.Context(), handler, s)

	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case event := <-s.events:
			if err := writeSSEEvent(w, flusher, event); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// consumeSession drains a session's request queue one request at a time
func (t *SSETransport) consumeSession(ctx context.Context, handler RequestHandler, s *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case sr := <-s.requests:
			reqCtx := ContextWithHeaders(ctx, sr.headers)
			resp := handler.HandleRequest(reqCtx, sr.req)
			t.pushResponse(s, resp)
		}
	}
}

// pushResponse serializes a response and queues it as a "message" event
func (t *SSETransport) pushResponse(s *session, resp *protocol.JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("failed to marshal response",
			"session_id", s.id,
			"error", err)
		return
	}

	select {
	case s.events <- &sseEvent{Type: "message", Data: string(data)}:
	case <-s.done:
	}
}

// HandleMessages accepts a JSON-RPC message POSTed against an open session.
// The message is queued for the session's consumer and 202 Accepted is
// returned immediately; the response arrives on the session stream. Mountable
// on any router.
func (t *SSETransport) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	t.sessionMu.RLock()
	s, exists := t.sessions[sessionID]
	t.sessionMu.RUnlock()
	if !exists {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	var req protocol.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, protocol.ParseError, "Invalid JSON")
		return
	}

	sr := &sessionRequest{req: &req, headers: r.Header.Clone()}
	select {
	case s.requests <- sr:
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "accepted",
			"id":     req.ID,
		})
	case <-s.done:
		http.Error(w, "Session closed", http.StatusGone)
	default:
		http.Error(w, "Session queue full", http.StatusServiceUnavailable)
	}
}

// writeSSEEvent writes one event frame and flushes it to the client
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event *sseEvent) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
