package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "collab.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { s.Close() })
	return s
}

func appendN(t *testing.T, s *SQLiteStore, path string, n int) []*Version {
	t.Helper()
	var out []*Version
	for i := range n {
		v, err := s.AppendVersion(context.Background(), NewVersion{
			Path: path, Kind: "document", Summary: fmt.Sprintf("edit %d", i), Author: "alice", Content: fmt.Sprintf("v%d", i),
		})
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestInitIsIdempotent(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.Init())
}

func TestAppendVersionAssignsSeq(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	vs := appendN(t, s, "a.txt", 3)
	for i, v := range vs {
		assert.Equal(t, i+1, v.Seq)
		assert.Len(t, v.Key, 8)
	}
	other := appendN(t, s, "b.txt", 1)
	assert.Equal(t, 1, other[0].Seq, "seq is per path")

	history, err := s.Versions(ctx, "a.txt", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].Seq, "newest first")
	assert.Equal(t, "v2", history[0].Content)

	latest, err := s.LatestVersion(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, vs[2].Key, latest.Key)

	byKey, err := s.VersionByKey(ctx, "a.txt", vs[0].Key)
	require.NoError(t, err)
	assert.Equal(t, 1, byKey.Seq)

	bySeq, err := s.VersionBySeq(ctx, "a.txt", 2)
	require.NoError(t, err)
	assert.Equal(t, vs[1].Key, bySeq.Key)

	_, err = s.VersionByKey(ctx, "b.txt", vs[0].Key)
	assert.ErrorIs(t, err, ErrNotFound, "keys are scoped to their path")
	_, err = s.LatestVersion(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	j := vs[0].ToJSON()
	assert.Equal(t, vs[0].Key, j.VersionID)
	assert.Equal(t, "alice", j.Author)
	_, err = time.Parse(time.RFC3339Nano, j.Timestamp)
	assert.NoError(t, err)
}

func TestConcurrentAppendsNeverShareSeq(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Writers are serialised per path above the store; mimic that here.
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			_, err := s.AppendVersion(ctx, NewVersion{Path: "a.txt", Kind: "document", Summary: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := s.Versions(ctx, "a.txt", 0)
	require.NoError(t, err)
	require.Len(t, history, 10)
	for i, v := range history {
		assert.Equal(t, 10-i, v.Seq)
	}
}

func TestForkRecords(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	f := &Fork{
		ID: "f1", SourcePath: "a.txt", ForkPath: "a.fork-f1.txt", Title: "Fork of a.txt",
		Synchronize: true, State: "synchronizing", Kind: "document", Base: "hello",
		Author: "alice", CreatedAt: time.Now().UnixMilli(),
	}
	require.NoError(t, s.SaveFork(ctx, f))
	require.NoError(t, s.SaveFork(ctx, &Fork{ID: "f2", SourcePath: "b.txt", ForkPath: "b.fork-f2.txt", State: "created", Kind: "document", CreatedAt: f.CreatedAt + 1}))

	got, err := s.Fork(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, got.Synchronize)
	assert.JSONEq(t, "[]", string(got.Skipped))
	assert.JSONEq(t, "{}", string(got.Contested))
	assert.Nil(t, got.ClosedAt)

	closed := time.Now().UnixMilli()
	f.State = "merged"
	f.Synchronize = false
	f.Skipped = []byte(`[{"reason":"overlap"}]`)
	f.Contested = []byte(`{"spans":[{"start":1,"end":3}]}`)
	f.ClosedAt = &closed
	f.Title = "ignored on update"
	require.NoError(t, s.SaveFork(ctx, f))

	got, err = s.Fork(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "merged", got.State)
	assert.False(t, got.Synchronize)
	assert.Equal(t, "Fork of a.txt", got.Title, "immutable columns keep their first value")
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, closed, *got.ClosedAt)
	assert.JSONEq(t, `[{"reason":"overlap"}]`, string(got.Skipped))
	assert.JSONEq(t, `{"spans":[{"start":1,"end":3}]}`, string(got.Contested))

	all, err := s.Forks(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := s.Forks(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "f2", open[0].ID)

	ofA, err := s.Forks(ctx, "a.txt", false)
	require.NoError(t, err)
	require.Len(t, ofA, 1)

	_, err = s.Fork(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVacuumKeepsNewest(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	appendN(t, s, "a.txt", 5)
	appendN(t, s, "b.txt", 1)

	n, err := s.Prunable(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Vacuum(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	history, err := s.Versions(ctx, "a.txt", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 5, history[0].Seq)

	n, err = s.Vacuum(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "keep is at least one")

	next := appendN(t, s, "a.txt", 1)
	assert.Equal(t, 6, next[0].Seq, "seq never reused after vacuum")

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Paths)
	assert.Equal(t, int64(3), st.Versions)

	require.NoError(t, s.Checkpoint(ctx))
}

func TestRetryOp(t *testing.T) {
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}

	t.Run("transient errors are retried", func(t *testing.T) {
		calls := 0
		err := retryOp(cfg, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors return at once", func(t *testing.T) {
		calls := 0
		err := retryOp(cfg, func() error {
			calls++
			return errors.New("UNIQUE constraint failed")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := retryOp(cfg, func() error {
			calls++
			return errors.New("SQLITE_LOCKED")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})
}
