// Package history keeps a SQLite ledger of completed chapters.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chapters (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL DEFAULT '',
    series_slug  TEXT NOT NULL,
    chapter_url  TEXT NOT NULL UNIQUE,
    title        TEXT NOT NULL,
    dir          TEXT NOT NULL,
    pages        INTEGER NOT NULL DEFAULT 0,
    completed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chapters_series ON chapters(series_slug);
`

type Entry struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id,omitempty"`
	SeriesSlug  string    `json:"series_slug"`
	ChapterURL  string    `json:"chapter_url"`
	Title       string    `json:"title"`
	Dir         string    `json:"dir"`
	Pages       int       `json:"pages"`
	CompletedAt time.Time `json:"completed_at"`
}

type Ledger struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores a completed chapter. Recording the same chapter URL again
// replaces the earlier row.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chapters (operation_id, series_slug, chapter_url, title, dir, pages, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chapter_url) DO UPDATE SET
		   operation_id = excluded.operation_id,
		   series_slug  = excluded.series_slug,
		   title        = excluded.title,
		   dir          = excluded.dir,
		   pages        = excluded.pages,
		   completed_at = excluded.completed_at`,
		e.OperationID, e.SeriesSlug, e.ChapterURL, e.Title, e.Dir, e.Pages, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", e.ChapterURL, err)
	}
	return nil
}

func (l *Ledger) Has(ctx context.Context, chapterURL string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chapters WHERE chapter_url = ?`, chapterURL,
	).Scan(&n)
	return n > 0, err
}

// List returns the newest entries first. An empty slug lists every series;
// limit <= 0 means no limit.
func (l *Ledger) List(ctx context.Context, seriesSlug string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, operation_id, series_slug, chapter_url, title, dir, pages, completed_at
		 FROM chapters WHERE (? = '' OR series_slug = ?)
		 ORDER BY completed_at DESC, id DESC LIMIT ?`,
		seriesSlug, seriesSlug, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OperationID, &e.SeriesSlug, &e.ChapterURL, &e.Title, &e.Dir, &e.Pages, &e.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ForgetSeries drops every row of a series, used after its directory is
// deleted from the cache.
func (l *Ledger) ForgetSeries(ctx context.Context, seriesSlug string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM chapters WHERE series_slug = ?`, seriesSlug)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
