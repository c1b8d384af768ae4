// Package docs renders the human- and machine-readable documentation surface
// of an ezmcp application: an HTML tool reference, an OpenAPI document, and a
// Swagger UI page, all generated from the registered tool descriptors.
package docs

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"ezmcp/pkg/ezmcp/schema"
)

// OpenAPIGenerator builds an OpenAPI 3 document describing the JSON-RPC
// surface and every registered tool
type OpenAPIGenerator struct {
	title       string
	version     string
	messagePath string
}

// NewOpenAPIGenerator creates a generator for the given application identity
func NewOpenAPIGenerator(title, version, messagePath string) *OpenAPIGenerator {
	if messagePath == "" {
		messagePath = "/messages"
	}
	return &OpenAPIGenerator{
		title:       title,
		version:     version,
		messagePath: messagePath,
	}
}

// Generate builds the OpenAPI document from the given tool descriptors. Each
// tool's input schema becomes a named component schema; the message endpoint
// is documented once with the tool names enumerated.
func (g *OpenAPIGenerator) Generate(descriptors []*schema.ToolDescriptor) (*openapi3.T, error) {
	components := &openapi3.Components{
		Schemas: make(openapi3.Schemas, len(descriptors)),
	}

	toolNames := make([]interface{}, 0, len(descriptors))
	for _, d := range descriptors {
		ref, err := schemaRef(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", d.Name, err)
		}
		if d.Description != "" {
			ref.Value.Description = d.Description
		}
		components.Schemas[d.Name] = ref
		toolNames = append(toolNames, d.Name)
	}

	requestSchema := openapi3.NewObjectSchema().
		WithProperty("jsonrpc", openapi3.NewStringSchema().WithEnum("2.0")).
		WithProperty("id", openapi3.NewSchema()).
		WithProperty("method", openapi3.NewStringSchema()).
		WithProperty("params", openapi3.NewObjectSchema().
			WithProperty("name", openapi3.NewStringSchema().WithEnum(toolNames...)).
			WithProperty("arguments", openapi3.NewObjectSchema()))
	requestSchema.Required = []string{"jsonrpc", "method"}

	operation := &openapi3.Operation{
		OperationID: "postMessage",
		Summary:     "Send a JSON-RPC message to the server",
		Description: "Carries initialize, tools/list, and tools/call requests. Tool input schemas are listed under components.",
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name:     "session_id",
					In:       openapi3.ParameterInQuery,
					Required: true,
					Schema:   openapi3.NewStringSchema().NewRef(),
				},
			},
		},
		RequestBody: &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithJSONSchema(requestSchema),
		},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(202, &openapi3.ResponseRef{
				Value: openapi3.NewResponse().
					WithDescription("Message accepted; the response arrives on the session stream"),
			}),
		),
	}

	paths := openapi3.NewPaths(
		openapi3.WithPath(g.messagePath, &openapi3.PathItem{Post: operation}),
	)

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   g.title,
			Version: g.version,
		},
		Paths:      paths,
		Components: components,
	}, nil
}

// Handler serves the generated document as /openapi.json
func (g *OpenAPIGenerator) Handler(descriptors func() []*schema.ToolDescriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := g.Generate(descriptors())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}

// schemaRef converts a generated JSON Schema fragment into a kin-openapi
// schema reference by round-tripping it through JSON
func schemaRef(inputSchema map[string]interface{}) (*openapi3.SchemaRef, error) {
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, err
	}

	var s openapi3.Schema
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return openapi3.NewSchemaRef("", &s), nil
}
