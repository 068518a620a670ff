package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"webrag/internal/port"
)

var (
	_ port.KnownURLStore = (*URLStore)(nil)
	_ port.URLRecorder   = (*URLStore)(nil)
)

const urlSchema = `
CREATE TABLE IF NOT EXISTS known_urls (
	url           TEXT PRIMARY KEY,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	times_seen    INTEGER NOT NULL DEFAULT 1
);`

// checkBatchSize keeps IN (...) lists under SQLite's variable limit.
const checkBatchSize = 500

// URLStore is the durable set of URLs ingested by earlier sessions.
type URLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewURLStore(path string) (*URLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(urlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &URLStore{db: db, now: time.Now}, nil
}

func (s *URLStore) Close() error {
	return s.db.Close()
}

// CheckExisting reports, for every input URL, whether it is already known.
func (s *URLStore) CheckExisting(ctx context.Context, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		out[u] = false
	}

	for start := 0; start < len(urls); start += checkBatchSize {
		batch := urls[start:min(start+checkBatchSize, len(urls))]
		args := make([]any, len(batch))
		for i, u := range batch {
			args[i] = u
		}
		query := "SELECT url FROM known_urls WHERE url IN (" + placeholders(len(batch)) + ")"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query known urls: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, err
			}
			out[u] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Remember records urls as known. Re-remembering a URL bumps its counters.
func (s *URLStore) Remember(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO known_urls (url, first_seen_at, last_seen_at, times_seen)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(url) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			times_seen = known_urls.times_seen + 1`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, u := range urls {
		if _, err := stmt.ExecContext(ctx, u, now, now); err != nil {
			return fmt.Errorf("remember %s: %w", u, err)
		}
	}
	return tx.Commit()
}

// Forget removes urls so later searches may return them again.
func (s *URLStore) Forget(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM known_urls WHERE url IN ("+placeholders(len(urls))+")", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of known URLs.
func (s *URLStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM known_urls").Scan(&n)
	return n, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
