package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar/internal/catalog"
	"bazaar/internal/market"
)

func sampleSave(t *testing.T, sessionID string, weeks int) market.SaveFile {
	t.Helper()
	sim := market.NewSimulator(catalog.Default().All(), market.Options{
		Source:    market.NewSeededSource(17),
		Locations: catalog.Default().Locations(),
	})
	for week := 1; week <= weeks; week++ {
		sim.WeeklyTick(week)
	}
	return sim.Save(sessionID)
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	require.True(t, errors.Is(err, ErrSaveNotFound), "got %v", err)

	first := sampleSave(t, "game-a", 3)
	require.NoError(t, s.Save(ctx, first))

	got, err := s.Load(ctx, "game-a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentWeek)
	assert.Equal(t, first.ProductPrices, got.ProductPrices)
	assert.Equal(t, first.MarketModifiers, got.MarketModifiers)
	assert.True(t, first.SavedAt.Equal(got.SavedAt))

	later := sampleSave(t, "game-a", 5)
	require.NoError(t, s.Save(ctx, later))
	got, err = s.Load(ctx, "game-a")
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentWeek)

	other := sampleSave(t, "game-b", 1)
	other.SavedAt = later.SavedAt.Add(time.Minute)
	require.NoError(t, s.Save(ctx, other))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "game-b", entries[0].SessionID)
	assert.Equal(t, "game-a", entries[1].SessionID)
	assert.Equal(t, 5, entries[1].Week)

	require.NoError(t, s.Delete(ctx, "game-b"))
	assert.True(t, errors.Is(s.Delete(ctx, "game-b"), ErrSaveNotFound))
	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	bad := sampleSave(t, "../escape", 1)
	assert.True(t, errors.Is(s.Save(ctx, bad), ErrInvalidSessionID))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestFileStoreWritesSaveShape(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleSave(t, "shape", 2)))

	raw, err := os.ReadFile(filepath.Join(dir, "shape.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"productPrices"`)
	assert.Contains(t, string(raw), `"changePercent"`)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, "file:"+dir, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, "sqlite::memory:", nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, filepath.Join(dir, "bazaar.db"), nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "redis://localhost", nil)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
