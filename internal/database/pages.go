// Package database provides Postgres-backed persistence for harvested pages.
package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PageRow is one harvested page record.
type PageRow struct {
	ID         string
	JobID      string
	URL        string
	Title      string
	BlobURI    string
	StatusCode int
	LinkCount  int
	FetchedAt  time.Time
}

// Config controls the Postgres connection pool used for page rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PageStore writes page rows into Postgres.
type PageStore struct {
	pool  execCloser
	table string
}

// NewPageStore creates a Postgres-backed PageStore using the provided
// config.
func NewPageStore(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PageStore{pool: pool, table: table}, nil
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPageStoreWithPool(pool execCloser, table string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertPage writes one page row.
func (s *PageStore) InsertPage(ctx context.Context, row PageRow) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("page store is not configured")
	}
	if row.ID == "" {
		return fmt.Errorf("row id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	job_id,
	url,
	title,
	blob_uri,
	status_code,
	link_count,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		row.ID,
		row.JobID,
		row.URL,
		row.Title,
		row.BlobURI,
		row.StatusCode,
		row.LinkCount,
		row.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}
