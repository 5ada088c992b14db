package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bazaar/internal/db"
	"bazaar/internal/market"
)

var ErrTxConflict = errors.New("save conflicted too many times")

// PGStore keeps saves in bazaar.saves with the body as JSONB.
type PGStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PGStore, error) {
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPGStore(pool, logger), nil
}

func NewPGStore(pool *pgxpool.Pool, logger *slog.Logger) *PGStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, log: logger.With("component", "store", "backend", "postgres")}
}

// Save upserts the session row. A newer save already on disk is kept, so a
// slow asynchronous write cannot roll a session back.
func (p *PGStore) Save(ctx context.Context, save market.SaveFile) error {
	if err := validateSessionID(save.SessionID); err != nil {
		return err
	}
	raw, err := market.EncodeSave(save)
	if err != nil {
		return err
	}

	const maxAttempts = 5
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			_, err := tx.Exec(ctx, `
				INSERT INTO bazaar.saves (session_id, current_week, saved_at, body)
				VALUES ($1, $2, $3, $4::jsonb)
				ON CONFLICT (session_id) DO UPDATE SET
					current_week = EXCLUDED.current_week,
					saved_at = EXCLUDED.saved_at,
					body = EXCLUDED.body
				WHERE bazaar.saves.current_week <= EXCLUDED.current_week
			`, save.SessionID, save.CurrentWeek, save.SavedAt, string(raw))
			if err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return fmt.Errorf("store.PGStore.Save: %w", err)
		}
		p.log.Debug("save conflict, retrying", "session_id", save.SessionID, "attempt", attempt+1)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return ErrTxConflict
}

func (p *PGStore) Load(ctx context.Context, sessionID string) (market.SaveFile, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, `SELECT body FROM bazaar.saves WHERE session_id = $1`, sessionID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.SaveFile{}, fmt.Errorf("%w: %s", ErrSaveNotFound, sessionID)
	}
	if err != nil {
		return market.SaveFile{}, fmt.Errorf("store.PGStore.Load: %w", err)
	}
	return market.DecodeSave(body)
}

func (p *PGStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, current_week, saved_at
		FROM bazaar.saves
		ORDER BY saved_at DESC, session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store.PGStore.List: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.Week, &e.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PGStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM bazaar.saves WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store.PGStore.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSaveNotFound, sessionID)
	}
	return nil
}

func (p *PGStore) Close() error {
	p.pool.Close()
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
