package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/repolens/repolens/auth"
)

type page struct {
	path     string
	template string
	title    string
}

var pages = []page{
	{path: "/login", template: "login.html", title: "Sign in"},
	{path: "/register", template: "register.html", title: "Create an account"},
	{path: "/dashboard", template: "dashboard.html", title: "Dashboard"},
	{path: "/repo", template: "repo_analysis.html", title: "Repository analysis"},
	{path: "/bulk", template: "bulk_analysis.html", title: "Bulk analysis"},
}

func (s *Server) mountPages(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/login", http.StatusTemporaryRedirect)
	})

	for _, p := range pages {
		r.Get(p.path, s.pageHandler(p))
	}
}

func (s *Server) pageHandler(p page) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		data := PageData{
			Request: req,
			Path:    req.URL.Path,
			Title:   p.title,
		}
		if session, ok := auth.FromContext(req.Context()); ok {
			data.User = &session.User
		}

		s.renderer.Render(w, req, p.template, data)
	}
}
