package syncq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushLoad(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)

	got, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, q.Push(Command{Method: "POST", Path: "/v1/games/a/advance", IdempotencyKey: "k1"}))
	require.NoError(t, q.Push(Command{Method: "POST", Path: "/v1/games/a/events/modifier", Body: map[string]any{"scope": "global"}, IdempotencyKey: "k2"}))

	got, err = q.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "k1", got[0].IdempotencyKey)
	assert.Equal(t, "global", got[1].Body["scope"])
}

func TestQueueDrainKeepsOrder(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Push(Command{Method: "POST", Path: "/x", IdempotencyKey: key}))
	}

	offline := errors.New("connection refused")
	rejected := errors.New("api status 400")
	sent, dropped, err := q.Drain(func(c Command) (bool, error) {
		switch c.IdempotencyKey {
		case "b":
			return false, rejected
		case "c":
			return true, offline
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, dropped, 1)
	assert.Equal(t, "b", dropped[0].IdempotencyKey)

	left, err := q.Load()
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "c", left[0].IdempotencyKey)
	assert.Equal(t, "d", left[1].IdempotencyKey)

	sent, _, err = q.Drain(func(Command) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	left, err = q.Load()
	require.NoError(t, err)
	assert.Empty(t, left)
}
