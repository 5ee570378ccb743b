// Package postgres provides the Postgres-backed ingest.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/storage/sqlstore"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string { return schema }

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements ingest.Store on Postgres.
type Store struct {
	pool pool
	sql  sqlstore.Builder
}

var _ ingest.Store = (*Store)(nil)

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, sql: sqlstore.Postgres()}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, sql: sqlstore.Postgres()}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SelectCandidates implements ingest.LinkStore.
func (s *Store) SelectCandidates(ctx context.Context, statuses []ingest.LinkStatus, limit int) ([]ingest.Link, error) {
	query, args, err := s.sql.SelectCandidates(statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	links := make([]ingest.Link, 0, max(limit, 0))
	for rows.Next() {
		link, err := sqlstore.ScanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return links, nil
}

// GetLink implements ingest.LinkStore.
func (s *Store) GetLink(ctx context.Context, id string) (ingest.Link, error) {
	query, args, err := s.sql.GetLink(id)
	if err != nil {
		return ingest.Link{}, fmt.Errorf("build link query: %w", err)
	}
	link, err := sqlstore.ScanLink(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Link{}, fmt.Errorf("link %s: %w", id, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.Link{}, fmt.Errorf("get link %s: %w", id, err)
	}
	return link, nil
}

// InsertLink implements ingest.LinkStore.
func (s *Store) InsertLink(ctx context.Context, link ingest.Link) error {
	query, args, err := s.sql.InsertLink(link)
	if err != nil {
		return fmt.Errorf("build link insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert link %s: %w", link.ID, ingest.ErrConflict)
		}
		return fmt.Errorf("insert link %s: %w", link.ID, err)
	}
	return nil
}

// UpdateLink implements ingest.LinkStore.
func (s *Store) UpdateLink(ctx context.Context, update ingest.LinkUpdate) error {
	query, args, err := s.sql.UpdateLink(update)
	if err != nil {
		return fmt.Errorf("build link update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update link %s: %w", update.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	query, args, err = s.sql.LinkStatus(update.ID)
	if err != nil {
		return fmt.Errorf("build status query: %w", err)
	}
	var current string
	err = s.pool.QueryRow(ctx, query, args...).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("link %s: %w", update.ID, ingest.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read link %s status: %w", update.ID, err)
	}
	return fmt.Errorf("link %s is %s, expected %s: %w", update.ID, current, update.Expect, ingest.ErrConflict)
}

// CountByStatus implements ingest.LinkStore.
func (s *Store) CountByStatus(ctx context.Context) (map[ingest.LinkStatus]int, error) {
	query, args, err := s.sql.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	defer rows.Close()

	counts := make(map[ingest.LinkStatus]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[ingest.LinkStatus(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

func (s *Store) exec(ctx context.Context, what string, build func() (string, []any, error)) error {
	query, args, err := build()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", what, err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	return nil
}

// InsertIntervention implements ingest.EntityStore.
func (s *Store) InsertIntervention(ctx context.Context, e ingest.Intervention) error {
	return s.exec(ctx, "intervention", func() (string, []any, error) { return s.sql.InsertIntervention(e) })
}

// InsertEvidence implements ingest.EntityStore.
func (s *Store) InsertEvidence(ctx context.Context, e ingest.Evidence) error {
	return s.exec(ctx, "evidence", func() (string, []any, error) { return s.sql.InsertEvidence(e) })
}

// InsertOutcome implements ingest.EntityStore.
func (s *Store) InsertOutcome(ctx context.Context, e ingest.Outcome) error {
	return s.exec(ctx, "outcome", func() (string, []any, error) { return s.sql.InsertOutcome(e) })
}

// InsertContext implements ingest.EntityStore.
func (s *Store) InsertContext(ctx context.Context, e ingest.CommunityContext) error {
	return s.exec(ctx, "community context", func() (string, []any, error) { return s.sql.InsertContext(e) })
}

// InsertHistory implements ingest.HistoryStore.
func (s *Store) InsertHistory(ctx context.Context, record ingest.ScrapeHistory) error {
	return s.exec(ctx, "scrape history", func() (string, []any, error) { return s.sql.InsertHistory(record) })
}

// RecentHistory implements ingest.HistoryStore.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]ingest.ScrapeHistory, error) {
	query, args, err := s.sql.RecentHistory(limit)
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []ingest.ScrapeHistory
	for rows.Next() {
		h, err := sqlstore.ScanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// SaveRawContent implements ingest.RawContentStore.
func (s *Store) SaveRawContent(ctx context.Context, content ingest.RawContent) (string, error) {
	query, args, err := s.sql.SaveRawContent(content)
	if err != nil {
		return "", fmt.Errorf("build raw content insert: %w", err)
	}
	var id string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("save raw content: %w", err)
	}
	return id, nil
}
