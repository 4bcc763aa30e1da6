package server

import (
	"embed"
	"html/template"
	"io"
	"path"
	"time"

	"github.com/labstack/echo/v4"

	"storysmith/pkg/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

type Templates struct {
	t *template.Template
}

func newTemplates() *Templates {
	funcs := template.FuncMap{
		"media": func(p string) string { return path.Join("/media", p) },
		"since": func(t time.Time) string { return time.Since(t).Round(time.Second).String() },
		"duration": func(d time.Duration) string {
			return d.Round(100 * time.Millisecond).String()
		},
		"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
		"limit": utils.LimitStr,
	}
	return &Templates{
		t: template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")),
	}
}

func (t *Templates) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return t.t.ExecuteTemplate(w, name, data)
}
