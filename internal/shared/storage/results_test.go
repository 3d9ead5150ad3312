package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := OpenResultStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResultStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result := &JobResult{
		JobID:      "job-1",
		Category:   "web",
		Difficulty: "medium",
		Status:     "completed",
		Flag:       "flag{abc}",
		Manifest: map[string]string{
			"challenge.py": "print('hi')",
			"flag.txt":     "flag{abc}",
		},
		TranscriptTail: []string{"done", "challenge is complete"},
	}
	require.NoError(t, store.SaveResult(ctx, result))

	got, err := store.GetResult(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "flag{abc}", got.Flag)
	assert.Equal(t, result.Manifest, got.Manifest)
	assert.Equal(t, result.TranscriptTail, got.TranscriptTail)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestResultStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetResult(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResultStore_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveResult(ctx, &JobResult{JobID: "job-1", Status: "failed", Error: "boom"}))
	require.NoError(t, store.SaveResult(ctx, &JobResult{JobID: "job-1", Status: "completed", Flag: "CTF{x}"}))

	got, err := store.GetResult(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "CTF{x}", got.Flag)
	assert.Empty(t, got.Error)
}

func TestResultStore_ListOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.SaveResult(ctx, &JobResult{
			JobID:     id,
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	results, err := store.ListResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].JobID)
	assert.Equal(t, "mid", results[1].JobID)
}
