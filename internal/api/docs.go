package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed static
var staticFS embed.FS

const openAPIPath = "static/openapi.yaml"

var docsTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>{{.Title}}</title>
  <style>body { margin: 0; }</style>
</head>
<body>
<redoc spec-url="{{.SpecURL}}" hide-download-button></redoc>
<script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>
`))

// docsPage is rendered once; the template has no per-request data.
var docsPage = func() []byte {
	var buf bytes.Buffer
	if err := docsTemplate.Execute(&buf, struct{ Title, SpecURL string }{"SEO Crawler API", "/openapi.yaml"}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	http.ServeFileFS(w, r, staticFS, openAPIPath)
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docsPage)
}
