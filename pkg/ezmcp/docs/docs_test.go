package docs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezmcp/pkg/ezmcp/schema"
)

func testDescriptors(t *testing.T) []*schema.ToolDescriptor {
	t.Helper()

	add, err := schema.NewToolDescriptor("add", "Add **two** numbers", []schema.Param{
		schema.Required("a", schema.TypeInteger, "first"),
		schema.Optional("b", schema.TypeInteger, 0, "second"),
	})
	require.NoError(t, err)

	greet, err := schema.NewToolDescriptor("greet", "Get a greeting", []schema.Param{
		schema.Optional("name", schema.TypeString, "World", "who to greet"),
	})
	require.NoError(t, err)

	return []*schema.ToolDescriptor{add, greet}
}

func TestPageHandler(t *testing.T) {
	page := NewPage("test-app", "1.0.0")
	handler := page.Handler(func() []*schema.ToolDescriptor { return testDescriptors(t) })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "test-app")
	assert.Contains(t, body, "add")
	assert.Contains(t, body, "greet")
	// Markdown description rendered to HTML
	assert.Contains(t, body, "<strong>two</strong>")
	// Default values surfaced
	assert.Contains(t, body, "World")
}

func TestOpenAPIGenerate(t *testing.T) {
	gen := NewOpenAPIGenerator("test-app", "1.0.0", "/messages")

	doc, err := gen.Generate(testDescriptors(t))
	require.NoError(t, err)

	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Equal(t, "test-app", doc.Info.Title)

	require.Contains(t, doc.Components.Schemas, "add")
	addSchema := doc.Components.Schemas["add"].Value
	require.NotNil(t, addSchema)
	assert.Contains(t, addSchema.Required, "a")
	assert.Contains(t, addSchema.Properties, "b")

	item := doc.Paths.Find("/messages")
	require.NotNil(t, item)
	require.NotNil(t, item.Post)
}

func TestOpenAPIHandler(t *testing.T) {
	gen := NewOpenAPIGenerator("test-app", "1.0.0", "/messages")
	handler := gen.Handler(func() []*schema.ToolDescriptor { return testDescriptors(t) })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
}

func TestSwaggerUIHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	SwaggerUIHandler("test-app")(rec, httptest.NewRequest(http.MethodGet, "/docs/api", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SwaggerUIBundle")
}
