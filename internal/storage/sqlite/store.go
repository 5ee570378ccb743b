// Package sqlite provides a single-file ingest.Store backed by modernc SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/storage/sqlstore"
)

//go:embed schema.sql
var schema string

// Config locates the database file.
type Config struct {
	Path string `mapstructure:"sqlite_path"`
}

// Store implements ingest.Store on SQLite.
type Store struct {
	db  *sql.DB
	sql sqlstore.Builder
}

var _ ingest.Store = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	s := &Store{db: db, sql: sqlstore.SQLite()}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
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
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	link, err := sqlstore.ScanLink(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
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
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
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
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update link %s: %w", update.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	query, args, err = s.sql.LinkStatus(update.ID)
	if err != nil {
		return fmt.Errorf("build status query: %w", err)
	}
	var current string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *Store) exec(ctx context.Context, what string, query string, args []any, err error) error {
	if err != nil {
		return fmt.Errorf("build %s insert: %w", what, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	return nil
}

// InsertIntervention implements ingest.EntityStore.
func (s *Store) InsertIntervention(ctx context.Context, e ingest.Intervention) error {
	query, args, err := s.sql.InsertIntervention(e)
	return s.exec(ctx, "intervention", query, args, err)
}

// InsertEvidence implements ingest.EntityStore.
func (s *Store) InsertEvidence(ctx context.Context, e ingest.Evidence) error {
	query, args, err := s.sql.InsertEvidence(e)
	return s.exec(ctx, "evidence", query, args, err)
}

// InsertOutcome implements ingest.EntityStore.
func (s *Store) InsertOutcome(ctx context.Context, e ingest.Outcome) error {
	query, args, err := s.sql.InsertOutcome(e)
	return s.exec(ctx, "outcome", query, args, err)
}

// InsertContext implements ingest.EntityStore.
func (s *Store) InsertContext(ctx context.Context, e ingest.CommunityContext) error {
	query, args, err := s.sql.InsertContext(e)
	return s.exec(ctx, "community context", query, args, err)
}

// InsertHistory implements ingest.HistoryStore.
func (s *Store) InsertHistory(ctx context.Context, record ingest.ScrapeHistory) error {
	query, args, err := s.sql.InsertHistory(record)
	return s.exec(ctx, "scrape history", query, args, err)
}

// RecentHistory implements ingest.HistoryStore.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]ingest.ScrapeHistory, error) {
	query, args, err := s.sql.RecentHistory(limit)
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("save raw content: %w", err)
	}
	return id, nil
}
