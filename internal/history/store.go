// Package history keeps a local record of the sources the renderer started.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver

	"go2tv.app/render-bridge/internal/renderer"
)

const (
	appName    = "render-bridge"
	dbFileName = "history.db"

	defaultRecentLimit = 20
)

// Entry is one recorded launch.
type Entry struct {
	ID       int64     `json:"id"`
	URI      string    `json:"uri"`
	MetaData string    `json:"metadata,omitempty"`
	At       time.Time `json:"at"`
}

type Store struct {
	db *sql.DB
}

// DefaultPath returns the history database location under the XDG data
// directory.
func DefaultPath() (string, error) {
	return xdg.DataFile(filepath.Join(appName, dbFileName))
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve history path: %w", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS launches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uri TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '',
			launched_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_launches_launched_at ON launches(launched_at);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordLaunch stores one engine launch.
func (s *Store) RecordLaunch(ctx context.Context, l renderer.Launch) error {
	at := l.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO launches (uri, metadata, launched_at) VALUES (?, ?, ?)`,
		l.URI, l.MetaData, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}

// Recent returns the latest launches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uri, metadata, launched_at FROM launches ORDER BY launched_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query launches: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.URI, &e.MetaData, &at); err != nil {
			return nil, fmt.Errorf("scan launch: %w", err)
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes launches older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM launches WHERE launched_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune launches: %w", err)
	}
	return res.RowsAffected()
}
