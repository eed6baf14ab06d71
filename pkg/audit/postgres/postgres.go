// Package postgres provides a PostgreSQL audit.Store built on pgx/v5.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/sandbox-mcp/pkg/audit"
)

// Ensure Store implements audit.Store at compile time.
var _ audit.Store = (*Store)(nil)

// Store is a PostgreSQL-backed audit store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and, when MigrateOnStart is set, applies the
// schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Record inserts an entry. Returns audit.ErrConflict for a duplicate ID.
func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tool_calls (id, tool, session_id, status, code, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Tool, nullString(e.SessionID), e.Status, nullString(e.Code), e.DurationMs, e.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return audit.ErrConflict
		}
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit <= 0 defaults
// to 100.
func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tool, COALESCE(session_id, ''), status, COALESCE(code, ''), duration_ms, created_at
		FROM tool_calls
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var e audit.Entry
		err := row.Scan(&e.ID, &e.Tool, &e.SessionID, &e.Status, &e.Code, &e.DurationMs, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning audit entries: %w", err)
	}
	return entries, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
