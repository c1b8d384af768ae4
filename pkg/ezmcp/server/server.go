// Package server implements the tool registry, invocation dispatcher, and
// middleware pipeline behind an ezmcp application, exposed to transports as a
// JSON-RPC request handler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
)

// Server routes JSON-RPC requests to the registry and dispatcher. Every
// request passes through the middleware pipeline; invocation-time failures
// are converted into structured error responses so the session stays open.
type Server struct {
	name        string
	version     string
	registry    *Registry
	dispatcher  *Dispatcher
	pipeline    *Pipeline
	logger      *slog.Logger
	mutex       sync.RWMutex
	initialized bool
}

// NewServer creates a new server
func NewServer(name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry()
	return &Server{
		name:       name,
		version:    version,
		registry:   registry,
		dispatcher: NewDispatcher(registry, logger),
		pipeline:   NewPipeline(logger),
		logger:     logger,
	}
}

// RegisterTool registers a tool descriptor with its handler. Registration
// errors (duplicate name, unsupported parameter type upstream) are fatal to
// this registration only; callers are expected to abort startup on them.
func (s *Server) RegisterTool(descriptor *schema.ToolDescriptor, handler protocol.ToolHandler) error {
	return s.registry.Register(descriptor, handler)
}

// Use appends interceptors to the middleware pipeline. The first interceptor
// registered wraps outermost.
func (s *Server) Use(middleware ...Middleware) {
	s.pipeline.Use(middleware...)
}

// Registry returns the tool registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Pipeline returns the middleware pipeline
func (s *Server) Pipeline() *Pipeline {
	return s.pipeline
}

// Tools returns the advertised tool definitions in registration order
func (s *Server) Tools() []protocol.Tool {
	return s.registry.Tools()
}

// IsInitialized reports whether an initialize request has been handled
func (s *Server) IsInitialized() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.initialized
}

// HandleRequest handles an incoming JSON-RPC request. An error escaping the
// middleware chain is treated as a failure of that request only and reported
// as a JSON-RPC error response.
func (s *Server) HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	resp, err := s.pipeline.Execute(ctx, req, s.route)
	if err != nil {
		s.logger.ErrorContext(ctx, "middleware chain failed",
			"method", req.Method,
			"error", err)
		return protocol.NewErrorResponse(req.ID, protocol.InternalError, err.Error(), nil)
	}
	return resp
}

// route dispatches a request to the matching method handler
func (s *Server) route(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(ctx, req), nil
	case "ping":
		return protocol.NewResponse(req.ID, map[string]interface{}{}), nil
	case "tools/list":
		return s.handleToolsList(ctx, req), nil
	case "tools/call":
		return s.handleToolsCall(ctx, req), nil
	default:
		return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound, "Method not found", req.Method), nil
	}
}

// handleInitialize handles the initialize request
func (s *Server) handleInitialize(_ context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	var initReq protocol.InitializeRequest
	if err := parseParams(req.Params, &initReq); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.InvalidParams, "Invalid parameters", err.Error())
	}

	s.mutex.Lock()
	s.initialized = true
	s.mutex.Unlock()

	result := protocol.InitializeResult{
		ProtocolVersion: protocol.Version,
		Capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolCapability{ListChanged: false},
		},
		ServerInfo: protocol.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
	}

	return protocol.NewResponse(req.ID, result)
}

// handleToolsList handles the tools/list request
func (s *Server) handleToolsList(_ context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	return protocol.NewResponse(req.ID, map[string]interface{}{
		"tools": s.registry.Tools(),
	})
}

// handleToolsCall handles the tools/call request. Dispatcher failures (tool
// not found, missing or mistyped arguments, invalid return values, handler
// errors) are surfaced as IsError tool results rather than protocol errors,
// leaving the session open for subsequent requests.
func (s *Server) handleToolsCall(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	var callReq protocol.ToolCallRequest
	if err := parseParams(req.Params, &callReq); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.InvalidParams, "Invalid parameters", err.Error())
	}
	if callReq.Name == "" {
		return protocol.NewErrorResponse(req.ID, protocol.InvalidParams, "Tool name required", nil)
	}

	content, err := s.dispatcher.Invoke(ctx, callReq.Name, callReq.Arguments)
	if err != nil {
		var notFound *ToolNotFoundError
		if errors.As(err, &notFound) {
			return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound, err.Error(), nil)
		}
		return protocol.NewResponse(req.ID, protocol.NewToolCallError(err.Error()))
	}

	return protocol.NewResponse(req.ID, protocol.NewToolCallResult(content...))
}

// parseParams converts loosely-typed JSON-RPC params into a target struct
func parseParams(params interface{}, target interface{}) error {
	if params == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, target)
}
