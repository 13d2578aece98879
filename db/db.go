package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/repolens/repolens/config"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUserExists   = errors.New("user already exists")
	ErrNotConnected = errors.New("database not connected")
)

// Store is the persistence layer shared by the route groups.
//
// A Store is returned unconnected by Open; Connect must succeed before any
// other method is used, otherwise they fail with ErrNotConnected.
type Store interface {
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	// UpsertGitHubUser creates or refreshes the account of a GitHub user,
	// keyed by username. A local account holding the same username is never
	// taken over: ErrUserExists is returned instead.
	UpsertGitHubUser(ctx context.Context, user *User) (*User, error)

	SaveAnalysis(ctx context.Context, analysis *Analysis) error
	GetAnalysis(ctx context.Context, owner, id string) (*Analysis, error)
	// ListAnalyses returns at most limit analyses of owner, newest first.
	ListAnalyses(ctx context.Context, owner string, limit int) ([]*Analysis, error)
	DeleteAnalysis(ctx context.Context, owner, id string) error
	// PurgeAnalyses deletes every analysis created before the given time and
	// reports how many were removed.
	PurgeAnalyses(ctx context.Context, before time.Time) (int64, error)
}

// Open returns the store for the configured driver. Nothing is dialed yet.
func Open(cfg config.Database) (Store, error) {
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Driver {
	case config.DriverMongo:
		return newMongoStore(cfg.URI, cfg.Name, timeout), nil
	case config.DriverSQLite:
		return newSQLiteStore(cfg.URI), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
