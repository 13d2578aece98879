package server

import (
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// NewStaticHandler serves files from fsys with cache headers by asset type.
// Directory listings are not served.
func NewStaticHandler(fsys fs.FS) http.Handler {
	fsHandler := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}

		ext := strings.ToLower(filepath.Ext(r.URL.Path))

		switch ext {
		case ".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico":
			w.Header().Set("Cache-Control", "public, max-age=604800")
		default:
			w.Header().Set("Cache-Control", "public, max-age=3600")
		}

		if c := mime.TypeByExtension(ext); c != "" {
			w.Header().Set("Content-Type", c)
		}

		fsHandler.ServeHTTP(w, r)
	})
}
