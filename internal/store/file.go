package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"bazaar/internal/market"
)

// FileStore keeps one JSON save file per session in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store.NewFileStore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store.NewFileStore: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".json")
}

func (f *FileStore) Save(ctx context.Context, save market.SaveFile) error {
	if err := validateSessionID(save.SessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := market.EncodeSave(save)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp, err := os.CreateTemp(f.dir, save.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store.FileStore.Save: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("store.FileStore.Save: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store.FileStore.Save: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(save.SessionID)); err != nil {
		return fmt.Errorf("store.FileStore.Save: rename: %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context, sessionID string) (market.SaveFile, error) {
	if err := validateSessionID(sessionID); err != nil {
		return market.SaveFile{}, err
	}
	if err := ctx.Err(); err != nil {
		return market.SaveFile{}, err
	}
	f.mu.Lock()
	raw, err := os.ReadFile(f.path(sessionID))
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return market.SaveFile{}, fmt.Errorf("%w: %s", ErrSaveNotFound, sessionID)
		}
		return market.SaveFile{}, err
	}
	return market.DecodeSave(raw)
}

func (f *FileStore) List(ctx context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	out := []Entry{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.dir, file.Name()))
		if err != nil {
			return nil, err
		}
		save, err := market.DecodeSave(raw)
		if err != nil {
			continue
		}
		out = append(out, Entry{SessionID: save.SessionID, Week: save.CurrentWeek, SavedAt: save.SavedAt})
	}
	sortEntries(out)
	return out, nil
}

func (f *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSaveNotFound, sessionID)
	}
	return err
}

func (f *FileStore) Close() error { return nil }

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
}
