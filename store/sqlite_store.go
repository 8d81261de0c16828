package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	bundle     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite はデータベースを開いてスキーマを作ります。path が空ならメモリ上に作ります。
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite は同時書き込みに弱く、:memory: は接続ごとに別物になる
	db.SetMaxOpenConns(1)
	if path != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, name, prompt, created_at, updated_at, bundle)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	prompt = excluded.prompt,
	updated_at = excluded.updated_at,
	bundle = excluded.bundle`,
		r.ID, r.Name, r.Prompt, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Bundle)
	if err != nil {
		return fmt.Errorf("store.SQLiteStore.Save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Record, error) {
	var r Record
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, prompt, created_at, updated_at, bundle FROM sessions WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Prompt, &created, &updated, &r.Bundle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store.SQLiteStore.Load: %w", err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store.SQLiteStore.Load: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("store.SQLiteStore.Load: %w", err)
	}
	return &r, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, prompt, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("store.SQLiteStore.List: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var created, updated string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Prompt, &created, &updated); err != nil {
			return nil, fmt.Errorf("store.SQLiteStore.List: %w", err)
		}
		if sum.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("store.SQLiteStore.List: %w", err)
		}
		if sum.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("store.SQLiteStore.List: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.SQLiteStore.List: %w", err)
	}
	// 文字列比較だとタイムゾーン違いで順序が崩れるので Go 側で並べる
	sortSummaries(out)
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store.SQLiteStore.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
