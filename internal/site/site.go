// Package site renders the blog pages from embedded html/template files.
// Post bodies are pre-rendered by the richtext package; everything else is
// escaped by html/template.
package site

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/richtext"
)

//go:embed templates/*.html
var files embed.FS

// Page names.
const (
	PageHome     = "home"
	PagePost     = "post"
	PageFallback = "fallback"
	PageNotFound = "notfound"
)

// HomeData is the listing page model. Session, when set, is the server-held
// listing view the "load more" button advances; otherwise the button opens
// a new view from Cursor.
type HomeData struct {
	Posts   []models.PostSummary
	HasMore bool
	Session string
	Cursor  string
}

// PostData is the detail page model.
type PostData struct {
	Post models.PostDetail
}

// FallbackData is the placeholder page model.
type FallbackData struct {
	Slug string
}

// Renderer executes the page templates.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"blocks": richtext.RenderAll,
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{PageHome, PagePost, PageFallback, PageNotFound} {
		t, err := template.New(name).Funcs(funcs).ParseFS(files, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("site: parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func (r *Renderer) execute(w io.Writer, name string, data any) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("site: unknown page %q", name)
	}
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("site: render %s: %w", name, err)
	}
	return nil
}

// Home renders the listing page.
func (r *Renderer) Home(w io.Writer, data HomeData) error {
	return r.execute(w, PageHome, data)
}

// Post renders a detail page.
func (r *Renderer) Post(w io.Writer, post models.PostDetail) error {
	return r.execute(w, PagePost, PostData{Post: post})
}

// Fallback renders the placeholder served while slug is being generated.
func (r *Renderer) Fallback(w io.Writer, slug string) error {
	return r.execute(w, PageFallback, FallbackData{Slug: slug})
}

// NotFound renders the 404 page.
func (r *Renderer) NotFound(w io.Writer) error {
	return r.execute(w, PageNotFound, nil)
}

// Bytes renders into a buffer, for the static exporter and ETag hashing.
func (r *Renderer) Bytes(fn func(io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
