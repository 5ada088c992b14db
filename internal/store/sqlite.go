package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/market"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS saves (
    session_id TEXT PRIMARY KEY,
    week       INTEGER NOT NULL DEFAULT 0,
    saved_at   TEXT    NOT NULL,
    body       TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saves_saved_at ON saves(saved_at DESC);
`

// SQLiteStore keeps saves in a single SQLite table, one row per session.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.OpenSQLite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.OpenSQLite: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, save market.SaveFile) error {
	if err := validateSessionID(save.SessionID); err != nil {
		return err
	}
	raw, err := market.EncodeSave(save)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saves (session_id, week, saved_at, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			week = excluded.week,
			saved_at = excluded.saved_at,
			body = excluded.body
	`, save.SessionID, save.CurrentWeek, save.SavedAt.UTC().Format(time.RFC3339Nano), string(raw))
	if err != nil {
		return fmt.Errorf("store.SQLiteStore.Save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (market.SaveFile, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM saves WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return market.SaveFile{}, fmt.Errorf("%w: %s", ErrSaveNotFound, sessionID)
	}
	if err != nil {
		return market.SaveFile{}, fmt.Errorf("store.SQLiteStore.Load: %w", err)
	}
	return market.DecodeSave([]byte(body))
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, week, saved_at FROM saves`)
	if err != nil {
		return nil, fmt.Errorf("store.SQLiteStore.List: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var savedAt string
		if err := rows.Scan(&e.SessionID, &e.Week, &savedAt); err != nil {
			return nil, err
		}
		e.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saves WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store.SQLiteStore.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSaveNotFound, sessionID)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
