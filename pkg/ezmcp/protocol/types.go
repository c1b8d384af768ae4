// Package protocol implements the Model Context Protocol message types used
// by the ezmcp framework: JSON-RPC framing, tool definitions, and the content
// blocks a tool invocation produces.
package protocol

import (
	"context"
)

// Version is the MCP protocol version spoken by this implementation.
const Version = "2024-11-05"

// JSONRPCRequest represents a JSON-RPC request
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id,omitempty"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error object
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *JSONRPCError) Error() string {
	return e.Message
}

// Error codes as defined by the JSON-RPC 2.0 specification
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Content type discriminators for the content block union.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// Content is one unit of tool response payload. It is a tagged union: Type
// selects which of the remaining fields are meaningful (text, image, or
// embedded resource).
type Content struct {
	Type string `json:"type"`

	// Text content
	Text string `json:"text,omitempty"`

	// Image content: base64-encoded data plus its MIME type
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// Embedded resource content
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ResourceContents carries an embedded resource inside a content block.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// NewTextContent creates a text content block
func NewTextContent(text string) Content {
	return Content{
		Type: ContentTypeText,
		Text: text,
	}
}

// NewImageContent creates an image content block from base64-encoded data
func NewImageContent(data, mimeType string) Content {
	return Content{
		Type:     ContentTypeImage,
		Data:     data,
		MimeType: mimeType,
	}
}

// NewResourceContent creates an embedded resource content block
func NewResourceContent(resource *ResourceContents) Content {
	return Content{
		Type:     ContentTypeResource,
		Resource: resource,
	}
}

// Tool represents a tool definition as advertised to clients
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolCallRequest represents the params of a tools/call request
type ToolCallRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolCallResult represents a tool call result
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// NewToolCallResult creates a successful tool call result
func NewToolCallResult(content ...Content) *ToolCallResult {
	return &ToolCallResult{
		Content: content,
		IsError: false,
	}
}

// NewToolCallError creates an error tool call result. The error is reported
// as a text content block with IsError set, leaving the session usable for
// subsequent requests.
func NewToolCallError(message string) *ToolCallResult {
	return &ToolCallResult{
		Content: []Content{NewTextContent(message)},
		IsError: true,
	}
}

// ToolHandler is the interface implemented by application-supplied tool logic.
// Arguments have already been bound and type-checked against the tool's
// parameter descriptors by the dispatcher.
type ToolHandler interface {
	Handle(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolHandlerFunc is a function adapter for ToolHandler
type ToolHandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Handle implements the ToolHandler interface
func (f ToolHandlerFunc) Handle(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// ServerCapabilities represents the capabilities advertised during initialize
type ServerCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Tools        *ToolCapability        `json:"tools,omitempty"`
}

// ToolCapability represents tool capabilities
type ToolCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeRequest represents an initialization request
type InitializeRequest struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
}

// ClientInfo identifies the connecting client
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult represents the initialize response payload
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ServerInfo identifies this server during the handshake
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewJSONRPCError creates a new JSON-RPC error
func NewJSONRPCError(code int, message string, data interface{}) *JSONRPCError {
	return &JSONRPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// NewResponse creates a response carrying a result for the given request ID
func NewResponse(id, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates a response carrying an error for the given request ID
func NewErrorResponse(id interface{}, code int, message string, data interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   NewJSONRPCError(code, message, data),
	}
}
