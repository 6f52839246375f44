package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"date": func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format("Jan 2, 2006")
		case *time.Time:
			if t == nil {
				return ""
			}
			return t.UTC().Format("Jan 2, 2006")
		}
		return ""
	},
	"percent": func(used, limit int) int {
		if limit <= 0 {
			return 100
		}
		p := used * 100 / limit
		if p > 100 {
			p = 100
		}
		return p
	},
	"short": func(s string) string {
		if len(s) <= 16 {
			return s
		}
		return s[:12] + "…"
	},
}

// pages holds one template set per page, each combined with the layout.
type pages map[string]*template.Template

func parsePages(names ...string) (pages, error) {
	out := make(pages, len(names))
	for _, name := range names {
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// render executes the page into a buffer first so a template error never
// leaves a half-written response.
func (p pages) render(w http.ResponseWriter, status int, name string, data any) error {
	t, ok := p[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
