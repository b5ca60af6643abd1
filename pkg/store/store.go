package store

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// Store wraps a *sqlx.DB and exposes one repository per entity. Callers
// open one Store per process and derive context-scoped operations from it;
// no *sqlx.DB is ever shared as mutable per-request state across
// goroutines beyond the pool sqlx itself manages.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn using the pgx stdlib driver, applies pool settings,
// and returns a ready Store. Callers must call Close when done.
func Open(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, apperrors.NewDatabaseError("connect", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sqlx.DB, used by tests against sqlmock
// or a disposable test database.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseError("ping", err)
	}
	return nil
}

// deriveSlug replaces path-unsafe separators so a human key becomes a
// stable URL-safe slug, per the orchestrator's ensure_project contract.
func deriveSlug(humanKey string) string {
	slug := strings.ReplaceAll(humanKey, "\\", "-")
	slug = strings.ReplaceAll(slug, ":", "-")
	slug = strings.ToLower(strings.TrimSpace(slug))
	return slug
}

// EnsureProject idempotently creates or returns the Project for humanKey,
// deriving its slug by replacing path separators.
func (s *Store) EnsureProject(ctx context.Context, humanKey string) (*Project, error) {
	slug := deriveSlug(humanKey)
	var p Project
	err := s.db.GetContext(ctx, &p, `
		INSERT INTO projects (slug, human_key)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET human_key = EXCLUDED.human_key
		RETURNING id, slug, human_key, created_at
	`, slug, humanKey)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ensure_project", err)
	}
	return &p, nil
}

// ProjectBySlug fetches a project by its slug.
func (s *Store) ProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	var p Project
	err := s.db.GetContext(ctx, &p, `SELECT id, slug, human_key, created_at FROM projects WHERE slug = $1`, slug)
	if err != nil {
		return nil, apperrors.NewNotFoundError("project")
	}
	return &p, nil
}
