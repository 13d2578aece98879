package server

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"

	"github.com/rs/zerolog/hlog"

	"github.com/repolens/repolens/auth"
)

const partialsPattern = "partials/*.html"

// PageData is what every page template is executed with.
type PageData struct {
	Request *http.Request
	Path    string
	Title   string
	User    *auth.User
}

// Renderer executes the page templates found in fsys. With cache set, a page
// is parsed once and reused; otherwise it is parsed on every request so edits
// show up without a restart.
type Renderer struct {
	fsys  fs.FS
	cache bool

	mu     sync.RWMutex
	parsed map[string]*template.Template
}

func NewRenderer(fsys fs.FS, cache bool) *Renderer {
	return &Renderer{
		fsys:   fsys,
		cache:  cache,
		parsed: make(map[string]*template.Template),
	}
}

func (r *Renderer) template(name string) (*template.Template, error) {
	if r.cache {
		r.mu.RLock()
		t, ok := r.parsed[name]
		r.mu.RUnlock()
		if ok {
			return t, nil
		}
	}

	t, err := template.New(name).ParseFS(r.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("could not parse template %s: %w", name, err)
	}

	partials, err := fs.Glob(r.fsys, partialsPattern)
	if err != nil {
		return nil, fmt.Errorf("could not list partials: %w", err)
	}
	if len(partials) > 0 {
		if t, err = t.ParseFS(r.fsys, partials...); err != nil {
			return nil, fmt.Errorf("could not parse partials: %w", err)
		}
	}

	if r.cache {
		r.mu.Lock()
		r.parsed[name] = t
		r.mu.Unlock()
	}

	return t, nil
}

// Render writes the named template with data. Nothing is written until the
// template executed successfully; any failure is answered with a plain 500.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, name string, data any) {
	var buf bytes.Buffer

	t, err := r.template(name)
	if err == nil {
		err = t.ExecuteTemplate(&buf, name, data)
	}
	if err != nil {
		hlog.FromRequest(req).Error().Err(err).Str("template", name).Msg("could not render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
