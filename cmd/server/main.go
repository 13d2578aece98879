package main

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gogithub "github.com/google/go-github/github"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/repolens/repolens/auth"
	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/db"
	repolens "github.com/repolens/repolens/github"
	"github.com/repolens/repolens/logger"
	"github.com/repolens/repolens/server"
	"github.com/repolens/repolens/user"
)

// Number of directories between this file and the project root.
const rootDepth = 3

const closeTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load(getEnv("CONFIG_FILE", "config.toml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	l := logger.New(cfg.Environment, os.Stdout)

	_, sourceFile, _, _ := runtime.Caller(0)
	paths := config.ResolvePaths(sourceFile, rootDepth, cfg.Paths.Root)
	l.Info().
		Str("source", paths.Source).
		Str("root", paths.Root).
		Str("static", paths.Static).
		Bool("static_exists", paths.StaticExists()).
		Str("templates", paths.Templates).
		Bool("templates_exists", paths.TemplatesExists()).
		Msg("resolved paths")

	store, err := db.Open(cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to open database")
	}

	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		l.Fatal().Err(err).Msg("invalid base url")
	}
	apiURL, err := url.Parse(cfg.GitHub.APIURL)
	if err != nil {
		l.Fatal().Err(err).Msg("invalid github api url")
	}

	authenticator := auth.NewAuthenticator(&auth.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		BaseURL:      baseURL,
		MountPath:    "/auth",
		SigningKey:   []byte(cfg.Auth.JWTSecret),
		Expiration:   time.Duration(cfg.Auth.SessionHours) * time.Hour,
		SecureCookie: cfg.Auth.SecureCookie,
		Store:        store,
		APIURL:       apiURL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	githubHandler := repolens.NewHandler(&repolens.HandlerConfig{
		Clients:         repolens.NewClients(apiURL, nil, installationClient(ctx, l, cfg.GitHub, apiURL)),
		Store:           store,
		BulkLimit:       cfg.GitHub.BulkLimit,
		BulkConcurrency: cfg.GitHub.BulkConcurrency,
	})

	srv := server.New(server.Options{
		Config:  cfg,
		Paths:   paths,
		Logger:  l,
		Session: authenticator.Middleware,
		Ping:    store.Ping,
		Groups: []server.Group{
			{Prefix: "/auth", Handler: authenticator.Routes()},
			{Prefix: "/user", Handler: user.NewHandler(store).Routes(authenticator.RequireUser)},
			{Prefix: "/github", Handler: githubHandler.Routes(authenticator.RequireUser)},
		},
	})

	srv.OnStartup(store.Connect)

	var retention *db.Retention
	if cfg.Analysis.RetentionDays > 0 {
		maxAge := time.Duration(cfg.Analysis.RetentionDays) * 24 * time.Hour
		retention, err = db.NewRetention(store, cfg.Analysis.PurgeSchedule, maxAge, l)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to schedule retention")
		}
		srv.OnStartup(func(context.Context) error {
			retention.Start()
			return nil
		})
	}

	err = srv.ListenAndServe(ctx)

	if retention != nil {
		retention.Stop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if closeErr := store.Close(closeCtx); closeErr != nil {
		l.Error().Err(closeErr).Msg("failed to close database")
	}

	if err != nil {
		l.Fatal().Err(err).Msg("server stopped")
	}
	l.Info().Msg("bye")
}

// installationClient authenticates as the GitHub App installation, when one
// is configured. Failures are not fatal: analyses then run with the user's
// token or anonymously.
func installationClient(ctx context.Context, l zerolog.Logger, cfg config.GitHub, apiURL *url.URL) *gogithub.Client {
	if !cfg.HasGitHubApp() {
		return nil
	}

	app, err := repolens.NewApp(&repolens.AppConfig{
		AppID:   cfg.AppID,
		KeyPath: cfg.PrivateKeyPath,
		APIURL:  apiURL,
	})
	if err != nil {
		l.Warn().Err(err).Msg("failed to load the github app")
		return nil
	}

	client, err := app.AuthenticateAsInstallation(ctx, cfg.InstallationID)
	if err != nil {
		l.Warn().Err(err).Msg("failed to authenticate as github app installation")
		return nil
	}

	l.Info().Str("app_id", cfg.AppID).Msg("authenticated as github app installation")
	return client
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}
