// Package schema derives JSON Schema tool descriptors from explicit parameter
// declarations. Parameters are declared alongside the handler at registration
// time; the resulting descriptor is immutable and drives both the advertised
// inputSchema and later argument binding.
package schema

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// TypeTag identifies a parameter's declared type.
type TypeTag string

// Supported parameter types. TypeContext marks a transport-supplied parameter
// (the request context); it is excluded from the generated schema and from
// argument binding.
const (
	TypeString  TypeTag = "string"
	TypeInteger TypeTag = "integer"
	TypeNumber  TypeTag = "number"
	TypeBoolean TypeTag = "boolean"
	TypeObject  TypeTag = "object"
	TypeArray   TypeTag = "array"
	TypeContext TypeTag = "context"
)

// UnsupportedTypeError reports a parameter declared with a type the mapper
// does not support. It is raised at registration time, never at invocation.
type UnsupportedTypeError struct {
	Param string
	Type  TypeTag
}

func (e *UnsupportedTypeError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("unsupported parameter type %q", e.Type)
	}
	return fmt.Sprintf("parameter %q has unsupported type %q", e.Param, e.Type)
}

// MapType converts a declared parameter type into a JSON Schema property
// fragment. Unrecognized types return an UnsupportedTypeError.
func MapType(tag TypeTag) (map[string]interface{}, error) {
	switch tag {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return map[string]interface{}{"type": string(tag)}, nil
	default:
		return nil, &UnsupportedTypeError{Type: tag}
	}
}

// Param describes one declared parameter of a tool. A parameter is optional
// exactly when a default was declared: default presence, not truthiness,
// determines required-ness, so 0 and "" count as defaults.
type Param struct {
	Name        string
	Type        TypeTag
	Description string
	Default     interface{}
	HasDefault  bool
}

// Required creates a required parameter declaration
func Required(name string, tag TypeTag, description string) Param {
	return Param{
		Name:        name,
		Type:        tag,
		Description: description,
	}
}

// Optional creates a parameter declaration with a default value. The default
// is recorded verbatim and bound when the caller omits the argument.
func Optional(name string, tag TypeTag, defaultValue interface{}, description string) Param {
	return Param{
		Name:        name,
		Type:        tag,
		Description: description,
		Default:     defaultValue,
		HasDefault:  true,
	}
}

// Context creates a transport-supplied parameter declaration. It never
// appears in the generated schema and is not bound from caller arguments.
func Context(name string) Param {
	return Param{
		Name: name,
		Type: TypeContext,
	}
}

// IsRequired reports whether a caller must supply this parameter
func (p Param) IsRequired() bool {
	return !p.HasDefault
}

// ToolDescriptor aggregates a tool's name, description, generated input
// schema, and the parameter descriptors used for argument binding. Built once
// at registration time; callers must not mutate it afterwards.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Params      []Param

	byName map[string]Param
}

// NewToolDescriptor builds a tool descriptor from explicit parameter
// declarations. Declaration order is preserved in Params; context parameters
// are excluded from the schema and from binding. Fails fast with an
// UnsupportedTypeError naming the offending parameter.
func NewToolDescriptor(name, description string, params []Param) (*ToolDescriptor, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	properties := make(map[string]interface{}, len(params))
	required := make([]string, 0, len(params))
	byName := make(map[string]Param, len(params))

	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("tool %q: parameter name is required", name)
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("tool %q: duplicate parameter %q", name, p.Name)
		}
		byName[p.Name] = p

		if p.Type == TypeContext {
			continue
		}

		fragment, err := MapType(p.Type)
		if err != nil {
			if ute, ok := err.(*UnsupportedTypeError); ok {
				ute.Param = p.Name
				return nil, ute
			}
			return nil, err
		}
		if p.Description != "" {
			fragment["description"] = p.Description
		}
		if p.HasDefault {
			fragment["default"] = p.Default
		}
		properties[p.Name] = fragment

		if p.IsRequired() {
			required = append(required, p.Name)
		}
	}

	sort.Strings(required)

	inputSchema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	return &ToolDescriptor{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Params:      params,
		byName:      byName,
	}, nil
}

// Param returns the descriptor for a named parameter
func (d *ToolDescriptor) Param(name string) (Param, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// Decode decodes a raw argument map into a typed struct using the same field
// conventions as JSON (json struct tags). Intended for handlers that prefer
// structured options over map access.
func Decode(input map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	return decoder.Decode(input)
}
