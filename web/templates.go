package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

type Templates struct {
	*template.Template
}

func NewTemplates() *Templates {
	t := template.New("").Funcs(TemplateFuncs())
	return &Templates{Template: template.Must(t.ParseFS(templateFS, "templates/*.html"))}
}

func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"unixTime": func(ts int64) string {
			return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
		},
		"clock": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04:05")
		},
		"jsonPretty": func(data []byte) string {
			var out any
			if err := json.Unmarshal(data, &out); err != nil {
				return string(data)
			}
			pretty, _ := json.MarshalIndent(out, "", "  ")
			return string(pretty)
		},
	}
}

// Render executes a named template into w.
func (t *Templates) Render(w io.Writer, name string, data any) error {
	return t.ExecuteTemplate(w, name, data)
}

// RenderPage writes a full HTML page.
func (t *Templates) RenderPage(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, "Template rendering error: "+err.Error(), http.StatusInternalServerError)
	}
}
