// Package postgres provides a Postgres-backed checkpoint store for runs that
// share progress across machines or want it outside the output directory.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "harvest_checkpoints"

// CheckpointStoreConfig controls the Postgres connection pool used for checkpoints.
type CheckpointStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// CheckpointStore keeps completed resource URLs in a table keyed by URL.
// Inserts are idempotent, so concurrent writers and replays are harmless.
type CheckpointStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewCheckpointStore connects to Postgres using cfg.
func NewCheckpointStore(ctx context.Context, cfg CheckpointStoreConfig) (*CheckpointStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CheckpointStore{pool: p, table: table, now: time.Now}, nil
}

// NewCheckpointStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCheckpointStoreWithPool(p pool, table string) (*CheckpointStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CheckpointStore{pool: p, table: name, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the checkpoint table when missing.
func (s *CheckpointStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	completed_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load returns every completed URL.
func (s *CheckpointStore) Load(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT url FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		completed[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return completed, nil
}

// RecordSuccess marks url as completed. Re-recording is a no-op.
func (s *CheckpointStore) RecordSuccess(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, completed_at) VALUES ($1, $2)
ON CONFLICT (url) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, url, s.now().UTC()); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CheckpointStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
