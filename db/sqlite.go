package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		password_hash BLOB,
		github_id INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		repository TEXT NOT NULL,
		report TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analyses_owner_created ON analyses(owner, created_at DESC)`,
}

// sqliteStore keeps timestamps as unix nanoseconds and reports as JSON.
type sqliteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func newSQLiteStore(path string) *sqliteStore {
	return &sqliteStore{path: path}
}

func (s *sqliteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if !strings.Contains(s.path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("could not create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("could not open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return fmt.Errorf("could not ping sqlite: %w", err)
	}

	for _, migration := range migrations {
		if _, err := sqlDB.ExecContext(ctx, migration); err != nil {
			sqlDB.Close()
			return fmt.Errorf("could not migrate sqlite: %w", err)
		}
	}

	s.db = sqlDB
	return nil
}

func (s *sqliteStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

func (s *sqliteStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *sqliteStore) CreateUser(ctx context.Context, user *User) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	prepareUser(user)

	_, err = conn.ExecContext(ctx,
		`INSERT INTO users (id, username, name, email, avatar_url, password_hash, github_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Name, user.Email, user.AvatarURL, user.PasswordHash, user.GitHubID,
		user.CreatedAt.UnixNano(), user.UpdatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("could not insert user: %w", err)
	}

	return nil
}

func (s *sqliteStore) GetUser(ctx context.Context, username string) (*User, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	var (
		user               User
		createdAt, updated int64
	)
	err = conn.QueryRowContext(ctx,
		`SELECT id, username, name, email, avatar_url, password_hash, github_id, created_at, updated_at
		FROM users WHERE username = ?`, username,
	).Scan(&user.ID, &user.Username, &user.Name, &user.Email, &user.AvatarURL, &user.PasswordHash,
		&user.GitHubID, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not find user: %w", err)
	}

	user.CreatedAt = time.Unix(0, createdAt).UTC()
	user.UpdatedAt = time.Unix(0, updated).UTC()
	return &user, nil
}

func (s *sqliteStore) UpsertGitHubUser(ctx context.Context, user *User) (*User, error) {
	existing, err := s.GetUser(ctx, user.Username)
	if errors.Is(err, ErrNotFound) {
		if err := s.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	if !existing.IsGitHub() {
		return nil, ErrUserExists
	}

	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	existing.Name = user.Name
	existing.Email = user.Email
	existing.AvatarURL = user.AvatarURL
	existing.GitHubID = user.GitHubID
	existing.UpdatedAt = time.Now().UTC()

	_, err = conn.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, avatar_url = ?, github_id = ?, updated_at = ? WHERE id = ?`,
		existing.Name, existing.Email, existing.AvatarURL, existing.GitHubID, existing.UpdatedAt.UnixNano(), existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not update user: %w", err)
	}

	return existing, nil
}

func (s *sqliteStore) SaveAnalysis(ctx context.Context, analysis *Analysis) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	prepareAnalysis(analysis)

	report, err := json.Marshal(analysis.Report)
	if err != nil {
		return fmt.Errorf("could not encode report: %w", err)
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO analyses (id, owner, repository, report, created_at) VALUES (?, ?, ?, ?, ?)`,
		analysis.ID, analysis.Owner, analysis.Repository, string(report), analysis.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("could not insert analysis: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*Analysis, error) {
	var (
		analysis  Analysis
		report    string
		createdAt int64
	)
	if err := row.Scan(&analysis.ID, &analysis.Owner, &analysis.Repository, &report, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(report), &analysis.Report); err != nil {
		return nil, fmt.Errorf("could not decode report: %w", err)
	}
	analysis.CreatedAt = time.Unix(0, createdAt).UTC()

	return &analysis, nil
}

func (s *sqliteStore) GetAnalysis(ctx context.Context, owner, id string) (*Analysis, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := conn.QueryRowContext(ctx,
		`SELECT id, owner, repository, report, created_at FROM analyses WHERE id = ? AND owner = ?`, id, owner)

	analysis, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not find analysis: %w", err)
	}

	return analysis, nil
}

func (s *sqliteStore) ListAnalyses(ctx context.Context, owner string, limit int) ([]*Analysis, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id, owner, repository, report, created_at FROM analyses
		WHERE owner = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list analyses: %w", err)
	}
	defer rows.Close()

	result := []*Analysis{}
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan analysis: %w", err)
		}
		result = append(result, analysis)
	}

	return result, rows.Err()
}

func (s *sqliteStore) DeleteAnalysis(ctx context.Context, owner, id string) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx, `DELETE FROM analyses WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("could not delete analysis: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not count deleted analyses: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *sqliteStore) PurgeAnalyses(ctx context.Context, before time.Time) (int64, error) {
	conn, err := s.conn()
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx, `DELETE FROM analyses WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("could not purge analyses: %w", err)
	}

	return res.RowsAffected()
}
