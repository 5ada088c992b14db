package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bazaar/internal/market"
)

var (
	ErrSaveNotFound     = errors.New("save not found")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrUnknownBackend   = errors.New("unknown store backend")
)

// Store persists save files keyed by session id. Save overwrites any
// previous save for the same session.
type Store interface {
	Save(ctx context.Context, save market.SaveFile) error
	Load(ctx context.Context, sessionID string) (market.SaveFile, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Entry describes one stored save, newest first in List results.
type Entry struct {
	SessionID string    `json:"session_id"`
	Week      int       `json:"week"`
	SavedAt   time.Time `json:"saved_at"`
}

// Open picks a backend from the DSN: "file:<dir>", "sqlite:<path>",
// "postgres://..." or "postgresql://...". A bare path ending in .db is
// treated as SQLite, anything else as a save directory.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn, logger)
	case strings.HasPrefix(dsn, "sqlite:"):
		return OpenSQLite(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"):
		return NewFileStore(strings.TrimPrefix(dsn, "file:"))
	case strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return OpenSQLite(dsn)
	case dsn == "":
		return nil, fmt.Errorf("%w: empty dsn", ErrUnknownBackend)
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, dsn)
	default:
		return NewFileStore(dsn)
	}
}

func validateSessionID(id string) error {
	if id == "" || len(id) > 128 || strings.ContainsAny(id, `/\.:`) || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}
