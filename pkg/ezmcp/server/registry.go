package server

import (
	"fmt"
	"sync"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
)

// DuplicateToolError reports an attempt to register a tool under a name that
// is already taken. The first registration remains active.
type DuplicateToolError struct {
	Tool string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Tool)
}

// ToolNotFoundError reports a lookup or invocation of an unregistered tool
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Tool)
}

// Entry pairs a tool descriptor with the handler that implements it. The
// registry owns entries; the handler is application-supplied logic that is
// invoked but never mutated.
type Entry struct {
	Descriptor *schema.ToolDescriptor
	Handler    protocol.ToolHandler
}

// Registry maps tool names to registered entries. Registration is the only
// mutation path; there is no unregistration. Listing order is registration
// order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds a tool to the registry. Returns DuplicateToolError if the
// name is already taken.
func (r *Registry) Register(descriptor *schema.ToolDescriptor, handler protocol.ToolHandler) error {
	if descriptor == nil {
		return fmt.Errorf("descriptor is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", descriptor.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[descriptor.Name]; exists {
		return &DuplicateToolError{Tool: descriptor.Name}
	}

	r.entries[descriptor.Name] = &Entry{
		Descriptor: descriptor,
		Handler:    handler,
	}
	r.order = append(r.order, descriptor.Name)
	return nil
}

// Lookup returns the entry for a tool name, or ToolNotFoundError
func (r *Registry) Lookup(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, &ToolNotFoundError{Tool: name}
	}
	return entry, nil
}

// List returns all entries in registration order
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.entries[name])
	}
	return entries
}

// Tools returns the advertised tool definitions in registration order
func (r *Registry) Tools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		d := r.entries[name].Descriptor
		tools = append(tools, protocol.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return tools
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
