package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/util"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Hook runs once before the server accepts its first connection.
type Hook func(ctx context.Context) error

// Group is a route group mounted under Prefix.
type Group struct {
	Prefix  string
	Handler http.Handler
}

type Options struct {
	Config *config.Config
	Paths  config.Paths
	Logger zerolog.Logger

	// Session, when set, attaches the signed-in user to page requests.
	Session Adapter
	// Ping backs /healthz, which always answers 200 when nil.
	Ping   func(ctx context.Context) error
	Groups []Group
}

type Server struct {
	config   *config.Config
	log      zerolog.Logger
	router   chi.Router
	renderer *Renderer

	hooks     []Hook
	startOnce sync.Once
	startErr  error
}

// New builds the application: middleware, static files, route groups and
// pages. Nothing is started until Start, Serve or ListenAndServe.
func New(options Options) *Server {
	s := &Server{
		config:   options.Config,
		log:      options.Logger,
		renderer: NewRenderer(os.DirFS(options.Paths.Templates), options.Config.Templates.Cache),
	}

	r := chi.NewRouter()
	for _, adapter := range RequestLogging(options.Logger) {
		r.Use(adapter)
	}
	r.Use(Recover(), Cors(options.Config.CORS))

	r.Handle("/static/*", http.StripPrefix("/static/", NewStaticHandler(os.DirFS(options.Paths.Static))))
	r.Get("/healthz", healthHandler(options.Ping))

	for _, group := range options.Groups {
		r.Mount(group.Prefix, group.Handler)
	}

	r.Group(func(r chi.Router) {
		if options.Session != nil {
			r.Use(options.Session)
		}
		s.mountPages(r)
	})

	s.router = r
	return s
}

// OnStartup registers a hook for Start. Hooks run in registration order.
func (s *Server) OnStartup(hook Hook) {
	s.hooks = append(s.hooks, hook)
}

// Start runs the startup hooks. Only the first call does any work, later
// calls return its result.
func (s *Server) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		for _, hook := range s.hooks {
			if err := hook(ctx); err != nil {
				s.startErr = fmt.Errorf("startup hook failed: %w", err)
				return
			}
		}
		s.log.Debug().Int("hooks", len(s.hooks)).Msg("startup done")
	})

	return s.startErr
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs Start and then serves on listener until ctx is done, shutting
// down gracefully. A failing startup hook closes listener unused.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if err := s.Start(ctx); err != nil {
		_ = listener.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          log.New(s.log, "", 0),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not shut down: %w", err)
	}
	return nil
}

// ListenAndServe starts the application and serves on the configured address.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.config.Addr(), err)
	}

	return s.Serve(ctx, listener)
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				_ = util.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		_ = util.WriteJson(w, map[string]string{"status": "ok"})
	}
}
