package docs

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ezmcp/pkg/ezmcp/schema"
)

// Page renders the HTML tool reference. Tool descriptions are treated as
// Markdown, so multi-line descriptions with code fences and lists come out
// readable.
type Page struct {
	title    string
	version  string
	markdown goldmark.Markdown
	titler   cases.Caser
}

// NewPage creates a documentation page renderer for the given application
func NewPage(name, version string) *Page {
	return &Page{
		title:   name,
		version: version,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		titler: cases.Title(language.English),
	}
}

type toolView struct {
	Name        string
	Title       string
	Description template.HTML
	Params      []paramView
}

type paramView struct {
	Name     string
	Type     string
	Required bool
	Default  string
}

var pageTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}} — Tool Reference</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; }
h1 small { color: #888; font-weight: normal; font-size: 0.6em; }
.tool { border: 1px solid #ddd; border-radius: 8px; padding: 1rem 1.5rem; margin: 1rem 0; }
.tool h2 { margin-top: 0; }
.tool h2 code { background: #f4f4f8; padding: 0.1em 0.4em; border-radius: 4px; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4em 0.8em; border-bottom: 1px solid #eee; }
.req { color: #c0392b; font-weight: bold; }
.opt { color: #27ae60; }
a.api { float: right; font-size: 0.9em; }
</style>
</head>
<body>
<a class="api" href="openapi.json">OpenAPI document</a>
<h1>{{.Title}} <small>v{{.Version}}</small></h1>
<p>{{.Count}} registered tool(s).</p>
{{range .Tools}}
<div class="tool">
<h2><code>{{.Name}}</code> {{.Title}}</h2>
{{.Description}}
{{if .Params}}
<table>
<tr><th>Parameter</th><th>Type</th><th>Required</th><th>Default</th></tr>
{{range .Params}}
<tr><td><code>{{.Name}}</code></td><td>{{.Type}}</td>
<td>{{if .Required}}<span class="req">yes</span>{{else}}<span class="opt">no</span>{{end}}</td>
<td>{{.Default}}</td></tr>
{{end}}
</table>
{{end}}
</div>
{{end}}
</body>
</html>
`))

// Handler serves the tool reference page
func (p *Page) Handler(descriptors func() []*schema.ToolDescriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := p.buildViews(descriptors())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data := struct {
			Title   string
			Version string
			Count   int
			Tools   []toolView
		}{
			Title:   p.title,
			Version: p.version,
			Count:   len(views),
			Tools:   views,
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (p *Page) buildViews(descriptors []*schema.ToolDescriptor) ([]toolView, error) {
	views := make([]toolView, 0, len(descriptors))
	for _, d := range descriptors {
		var buf bytes.Buffer
		if err := p.markdown.Convert([]byte(d.Description), &buf); err != nil {
			return nil, fmt.Errorf("tool %q: render description: %w", d.Name, err)
		}

		view := toolView{
			Name:        d.Name,
			Title:       p.titler.String(strings.ReplaceAll(d.Name, "_", " ")),
			Description: template.HTML(buf.String()),
		}

		for _, param := range d.Params {
			if param.Type == schema.TypeContext {
				continue
			}
			pv := paramView{
				Name:     param.Name,
				Type:     string(param.Type),
				Required: param.IsRequired(),
			}
			if param.HasDefault {
				pv.Default = fmt.Sprintf("%v", param.Default)
			}
			view.Params = append(view.Params, pv)
		}

		views = append(views, view)
	}
	return views, nil
}

// SwaggerUIHandler serves a Swagger UI page backed by /openapi.json
func SwaggerUIHandler(title string) http.HandlerFunc {
	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>%s API Documentation</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@4/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@4/swagger-ui-standalone-preset.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "openapi.json",
                dom_id: '#swagger-ui',
                presets: [
                    SwaggerUIBundle.presets.apis,
                    SwaggerUIStandalonePreset
                ],
                layout: "StandaloneLayout"
            });
        }
    </script>
</body>
</html>
`, template.HTMLEscapeString(title))

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}
}
