package server

import (
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/repolens/repolens/config"
)

type Adapter func(http.Handler) http.Handler
type Middleware func(h http.Handler, w http.ResponseWriter, r *http.Request)

func Adapt(middleware Middleware) Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware(h, w, r)
		})
	}
}

// Cors applies the CORS policy. A "*" among the allowed origins reflects
// every origin back, so credentials keep working for any of them. Methods
// outside the common set are reflected too.
func Cors(config config.CORS) Adapter {
	options := cors.Options{
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: config.AllowCredentials,
	}

	if len(config.AllowedOrigins) == 0 || slices.Contains(config.AllowedOrigins, "*") {
		options.AllowOriginFunc = func(string) bool { return true }
	} else {
		options.AllowedOrigins = config.AllowedOrigins
	}

	return func(h http.Handler) http.Handler {
		common := cors.New(options).Handler(h)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := requestedMethod(r)
			if slices.Contains(options.AllowedMethods, method) {
				common.ServeHTTP(w, r)
				return
			}

			reflected := options
			reflected.AllowedMethods = append(slices.Clone(options.AllowedMethods), method)
			cors.New(reflected).Handler(h).ServeHTTP(w, r)
		})
	}
}

// requestedMethod is the method a preflight asks for, or the request's own.
func requestedMethod(r *http.Request) string {
	if r.Method == http.MethodOptions {
		if method := r.Header.Get("Access-Control-Request-Method"); method != "" {
			return method
		}
	}
	return r.Method
}

// RequestLogging attaches log to every request, tags it with a request id
// and writes one access line once the response is done.
func RequestLogging(log zerolog.Logger) []Adapter {
	return []Adapter{
		hlog.NewHandler(log),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.RemoteAddrHandler("ip"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	}
}

// Recover turns a panicking handler into a 500.
func Recover() Adapter {
	return Adapt(func(h http.Handler, w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic while serving request")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()

		h.ServeHTTP(w, r)
	})
}
