package server

import (
	"context"
	"log/slog"
	"time"

	"ezmcp/pkg/ezmcp/protocol"
)

// Handler processes a JSON-RPC request and produces a response
type Handler func(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error)

// Middleware wraps request handling. An interceptor may inspect or modify
// the request, call next to continue the chain, short-circuit by returning
// its own response without calling next, or post-process the response on the
// way out.
type Middleware interface {
	Process(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (*protocol.JSONRPCResponse, error)
}

// MiddlewareFunc is an adapter to allow ordinary functions to be used as
// middleware
type MiddlewareFunc func(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (*protocol.JSONRPCResponse, error)

// Process implements the Middleware interface for MiddlewareFunc
func (f MiddlewareFunc) Process(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (*protocol.JSONRPCResponse, error) {
	return f(ctx, req, next)
}

// Pipeline is an ordered middleware chain. Interceptors wrap the underlying
// handler onion-style in registration order: the first interceptor added is
// the outermost, so its pre-logic runs first on the way in and its post-logic
// runs last on the way out. Function-style and struct-style interceptors
// share the same chain; only registration order determines wrap order.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// NewPipeline creates an empty middleware pipeline
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		middlewares: make([]Middleware, 0),
		logger:      logger,
	}
}

// Use appends middleware to the pipeline
func (p *Pipeline) Use(middleware ...Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, middleware...)
	return p
}

// Len returns the number of registered interceptors
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Execute runs the request through the chain ending at finalHandler
func (p *Pipeline) Execute(ctx context.Context, req *protocol.JSONRPCRequest, finalHandler Handler) (*protocol.JSONRPCResponse, error) {
	handler := finalHandler
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		middleware := p.middlewares[i]
		next := handler
		handler = func(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
			return middleware.Process(ctx, req, next)
		}
	}
	return handler(ctx, req)
}

// LoggingMiddleware logs each request's method and outcome
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

// Process implements the Middleware interface
func (m *LoggingMiddleware) Process(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (*protocol.JSONRPCResponse, error) {
	start := time.Now()

	resp, err := next(ctx, req)

	duration := time.Since(start)
	switch {
	case err != nil:
		m.logger.ErrorContext(ctx, "request failed",
			"method", req.Method,
			"duration", duration,
			"error", err)
	case resp != nil && resp.Error != nil:
		m.logger.WarnContext(ctx, "request returned error",
			"method", req.Method,
			"duration", duration,
			"code", resp.Error.Code,
			"message", resp.Error.Message)
	default:
		m.logger.InfoContext(ctx, "request completed",
			"method", req.Method,
			"duration", duration)
	}

	return resp, err
}

// RecoveryMiddleware converts panics below it in the chain into JSON-RPC
// internal errors so a single bad request cannot kill the serving process.
type RecoveryMiddleware struct {
	logger *slog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware
func NewRecoveryMiddleware(logger *slog.Logger) *RecoveryMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryMiddleware{logger: logger}
}

// Process implements the Middleware interface
func (m *RecoveryMiddleware) Process(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (resp *protocol.JSONRPCResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "panic recovered",
				"method", req.Method,
				"panic_value", r)
			resp = protocol.NewErrorResponse(req.ID, protocol.InternalError, "Internal server error", nil)
			err = nil
		}
	}()

	return next(ctx, req)
}

// TimeoutMiddleware bounds how long a request may run
type TimeoutMiddleware struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(timeout time.Duration, logger *slog.Logger) *TimeoutMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutMiddleware{
		timeout: timeout,
		logger:  logger,
	}
}

// Process implements the Middleware interface
func (m *TimeoutMiddleware) Process(ctx context.Context, req *protocol.JSONRPCRequest, next Handler) (*protocol.JSONRPCResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		resp *protocol.JSONRPCResponse
		err  error
	}
	resultChan := make(chan result, 1)

	go func() {
		resp, err := next(ctx, req)
		resultChan <- result{resp, err}
	}()

	select {
	case res := <-resultChan:
		return res.resp, res.err
	case <-ctx.Done():
		m.logger.WarnContext(ctx, "request timed out",
			"method", req.Method,
			"timeout", m.timeout)
		return protocol.NewErrorResponse(req.ID, protocol.InternalError, "Request timeout", nil), nil
	}
}
