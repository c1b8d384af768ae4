package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
)

// MissingArgumentError reports a required argument that was neither supplied
// by the caller nor covered by a declared default.
type MissingArgumentError struct {
	Tool  string
	Param string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("tool %q: missing required argument %q", e.Tool, e.Param)
}

// ArgumentTypeError reports a supplied argument whose value does not match
// the parameter's declared type.
type ArgumentTypeError struct {
	Tool     string
	Param    string
	Expected schema.TypeTag
	Value    interface{}
}

func (e *ArgumentTypeError) Error() string {
	return fmt.Sprintf("tool %q: argument %q must be of type %s, got %T",
		e.Tool, e.Param, e.Expected, e.Value)
}

// InvalidReturnError reports a handler return value that is neither a single
// content block nor a sequence of content blocks.
type InvalidReturnError struct {
	Tool  string
	Value interface{}
}

func (e *InvalidReturnError) Error() string {
	return fmt.Sprintf("tool %q: handler returned %T, want Content or []Content",
		e.Tool, e.Value)
}

// Dispatcher resolves tool names, binds and type-checks arguments, invokes
// handlers, and normalizes their return values into content block lists. All
// failures are reported as errors to the caller, never as a fault that kills
// the serving process.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Invoke runs the named tool with the raw arguments received from the
// transport. For each declared parameter the supplied value wins, then the
// recorded default, otherwise the invocation fails with MissingArgumentError.
// Supplied values are type-checked against the declared type before the
// handler runs.
func (d *Dispatcher) Invoke(ctx context.Context, name string, rawArgs map[string]interface{}) ([]protocol.Content, error) {
	entry, err := d.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	bound, err := d.bindArguments(entry.Descriptor, rawArgs)
	if err != nil {
		return nil, err
	}

	result, err := d.callHandler(ctx, entry, bound)
	if err != nil {
		return nil, err
	}

	return d.normalizeResult(name, result)
}

// bindArguments binds raw arguments against the tool's parameter
// descriptors. Arguments not declared as parameters are ignored.
func (d *Dispatcher) bindArguments(descriptor *schema.ToolDescriptor, rawArgs map[string]interface{}) (map[string]interface{}, error) {
	bound := make(map[string]interface{}, len(descriptor.Params))

	for _, p := range descriptor.Params {
		if p.Type == schema.TypeContext {
			continue
		}

		value, supplied := rawArgs[p.Name]
		if !supplied {
			if p.IsRequired() {
				return nil, &MissingArgumentError{Tool: descriptor.Name, Param: p.Name}
			}
			bound[p.Name] = p.Default
			continue
		}

		coerced, err := coerceValue(descriptor.Name, p, value)
		if err != nil {
			return nil, err
		}
		bound[p.Name] = coerced
	}

	return bound, nil
}

// callHandler invokes the handler, converting panics into errors so a
// misbehaving tool cannot take down the serving process.
func (d *Dispatcher) callHandler(ctx context.Context, entry *Entry, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "panic in tool handler",
				"tool", entry.Descriptor.Name,
				"panic_value", r)
			switch v := r.(type) {
			case error:
				err = fmt.Errorf("tool %q panicked: %w", entry.Descriptor.Name, v)
			default:
				err = fmt.Errorf("tool %q panicked: %v", entry.Descriptor.Name, v)
			}
		}
	}()

	return entry.Handler.Handle(ctx, args)
}

// normalizeResult converts a handler's return value into a content block
// list: a single block is wrapped, a slice passes through, anything else is
// an InvalidReturnError.
func (d *Dispatcher) normalizeResult(tool string, result interface{}) ([]protocol.Content, error) {
	switch v := result.(type) {
	case protocol.Content:
		return []protocol.Content{v}, nil
	case []protocol.Content:
		return v, nil
	default:
		return nil, &InvalidReturnError{Tool: tool, Value: result}
	}
}

// coerceValue type-checks a supplied argument against its declared type.
// JSON decoding yields float64 for every number, so integer parameters
// accept integral floats.
func coerceValue(tool string, p schema.Param, value interface{}) (interface{}, error) {
	mismatch := &ArgumentTypeError{Tool: tool, Param: p.Name, Expected: p.Type, Value: value}

	switch p.Type {
	case schema.TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, mismatch

	case schema.TypeInteger:
		switch n := value.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		case float64:
			if n == math.Trunc(n) {
				return int(n), nil
			}
			return nil, mismatch
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i), nil
			}
			return nil, mismatch
		default:
			return nil, mismatch
		}

	case schema.TypeNumber:
		switch n := value.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
			return nil, mismatch
		default:
			return nil, mismatch
		}

	case schema.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, mismatch

	case schema.TypeObject:
		if m, ok := value.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, mismatch

	case schema.TypeArray:
		if a, ok := value.([]interface{}); ok {
			return a, nil
		}
		// Typed slices ([]string and friends) from in-process callers
		if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice {
			return value, nil
		}
		return nil, mismatch

	default:
		return nil, &schema.UnsupportedTypeError{Param: p.Name, Type: p.Type}
	}
}
