package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Command is a write the CLI could not deliver. It is replayed later with
// the same idempotency key so the server applies it at most once.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	SessionID      string         `json:"session_id"`
}

// Queue is a JSON file of pending commands, oldest first.
type Queue struct {
	path string
	mu   sync.Mutex
}

func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, "queue.json")}, nil
}

func (q *Queue) Load() ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(commands)
}

func (q *Queue) save(commands []Command) error {
	if len(commands) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, raw, 0o600)
}

func (q *Queue) Push(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return q.save(commands)
}

// Drain replays commands in order through send. Replay stops at the first
// command that fails with keep=true; that command and everything after it
// stay queued so weekly ordering is preserved. Commands rejected with
// keep=false are dropped.
func (q *Queue) Drain(send func(Command) (keep bool, err error)) (sent int, dropped []Command, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return 0, nil, err
	}
	i := 0
	for ; i < len(commands); i++ {
		keep, sendErr := send(commands[i])
		if sendErr == nil {
			sent++
			continue
		}
		if keep {
			break
		}
		dropped = append(dropped, commands[i])
	}
	return sent, dropped, q.save(commands[i:])
}
