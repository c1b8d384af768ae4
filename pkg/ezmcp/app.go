package ezmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ezmcp/internal/config"
	"ezmcp/pkg/ezmcp/docs"
	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
	"ezmcp/pkg/ezmcp/server"
	"ezmcp/pkg/ezmcp/transport"
)

// App is one ezmcp application: a named tool collection served over the SSE
// session transport, plain HTTP, and WebSocket, with docs generated from the
// registered descriptors.
type App struct {
	name        string
	version     string
	debug       bool
	ssePath     string
	messagePath string
	heartbeat   time.Duration
	maxSessions int
	logger      *slog.Logger
	loggerSet   bool
	redisCfg    config.RedisConfig

	server *server.Server
	sse    *transport.SSETransport
	rpc    *transport.HTTPTransport
	ws     *transport.WebSocketTransport

	routerOnce sync.Once
	router     *chi.Mux

	httpServer *http.Server
	mu         sync.Mutex
}

// Name returns the application name
func (a *App) Name() string { return a.name }

// Version returns the application version
func (a *App) Version() string { return a.version }

// Debug reports whether debug mode is enabled
func (a *App) Debug() bool { return a.debug }

// SSEPath returns the session stream endpoint
func (a *App) SSEPath() string { return a.ssePath }

// MessagePath returns the message endpoint
func (a *App) MessagePath() string { return a.messagePath }

// Tool registers a function as a tool. The descriptor is derived from the
// parameter declarations; registration fails fast on unsupported parameter
// types and duplicate tool names, and callers are expected to abort startup
// on a registration error.
func (a *App) Tool(name, description string, params []schema.Param, handler protocol.ToolHandler) error {
	descriptor, err := schema.NewToolDescriptor(name, description, params)
	if err != nil {
		return err
	}
	if err := a.server.RegisterTool(descriptor, handler); err != nil {
		return err
	}

	a.logger.Debug("tool registered",
		"app", a.name,
		"tool", name,
		"params", len(params))
	return nil
}

// ToolFunc registers an ordinary function as a tool
func (a *App) ToolFunc(name, description string, params []schema.Param, fn func(ctx context.Context, args map[string]interface{}) (interface{}, error)) error {
	return a.Tool(name, description, params, protocol.ToolHandlerFunc(fn))
}

// Middleware appends a function-style interceptor to the chain. Interceptors
// wrap request handling in registration order: the first one registered runs
// first on the way in and last on the way out, regardless of style.
func (a *App) Middleware(fn func(ctx context.Context, req *protocol.JSONRPCRequest, next server.Handler) (*protocol.JSONRPCResponse, error)) {
	a.server.Use(server.MiddlewareFunc(fn))
}

// AddMiddleware appends a struct-style interceptor to the same chain
func (a *App) AddMiddleware(m server.Middleware) {
	a.server.Use(m)
}

// Tools returns the registered tool definitions in registration order
func (a *App) Tools() []protocol.Tool {
	return a.server.Tools()
}

// Descriptors returns the registered tool descriptors in registration order
func (a *App) Descriptors() []*schema.ToolDescriptor {
	entries := a.server.Registry().List()
	descriptors := make([]*schema.ToolDescriptor, 0, len(entries))
	for _, e := range entries {
		descriptors = append(descriptors, e.Descriptor)
	}
	return descriptors
}

// HandleRequest processes one JSON-RPC request in-process, without a
// transport. Useful for embedding and for tests.
func (a *App) HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	return a.server.HandleRequest(ctx, req)
}

// Handler returns the application's HTTP handler: the SSE session transport,
// a plain JSON-RPC POST endpoint, WebSocket, docs, and health check on one
// chi router.
func (a *App) Handler() http.Handler {
	a.routerOnce.Do(a.buildRouter)
	return a.router
}

func (a *App) buildRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestSize(10 * 1024 * 1024))

	r.Get(a.ssePath, a.sse.HandleSSE)
	r.Post(a.messagePath, a.sse.HandleMessages)
	r.Post("/rpc", a.rpc.HandleRPC)
	r.Get("/ws", a.ws.HandleWebSocket)

	page := docs.NewPage(a.name, a.version)
	openapi := docs.NewOpenAPIGenerator(a.name, a.version, a.messagePath)
	r.Get("/docs", page.Handler(a.Descriptors))
	r.Get("/docs/api", docs.SwaggerUIHandler(a.name))
	r.Get("/openapi.json", openapi.Handler(a.Descriptors))

	r.Get("/health", a.handleHealth)

	a.router = r
}

// handleHealth reports liveness and basic application identity
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"name":    a.name,
		"version": a.version,
		"tools":   a.server.Registry().Len(),
	})
}

// Run serves the application on host:port until SIGINT or SIGTERM, then
// shuts down gracefully.
func (a *App) Run(host string, port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.RunContext(ctx, fmt.Sprintf("%s:%d", host, port))
}

// RunContext serves the application on addr until the context is canceled,
// then shuts down gracefully.
func (a *App) RunContext(ctx context.Context, addr string) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     a.Handler(),
		ReadTimeout: 30 * time.Second,
		// SSE streams are long-lived; the write timeout stays off
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	a.httpServer = srv
	a.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("server listening",
			"app", a.name,
			"addr", addr,
			"sse_path", a.ssePath,
			"message_path", a.messagePath)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "app", a.name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.sse.Stop(); err != nil {
		a.logger.Error("failed to stop sse transport", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	a.mu.Lock()
	a.httpServer = nil
	a.mu.Unlock()
	return nil
}
