package session_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T, grace time.Duration, files ...string) (*session.Registry, *engine.Local, *events.Store) {
	t.Helper()
	root := t.TempDir()
	for _, name := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}
	eng, err := engine.NewLocal(root)
	require.NoError(t, err)
	ev := events.NewStore(events.Options{})
	reg := session.NewRegistry(eng, ev, session.Options{IdleGrace: grace})
	t.Cleanup(func() {
		reg.Close()
		eng.Shutdown()
	})
	return reg, eng, ev
}

func eventTypes(t *testing.T, ev *events.Store, stream string) []string {
	t.Helper()
	seq, err := ev.Replay(stream, "")
	require.NoError(t, err)
	var out []string
	for e := range seq {
		out = append(out, e.Type)
	}
	return out
}

func TestConcurrentGetOrCreateYieldsOneSession(t *testing.T) {
	reg, _, _ := setupRegistry(t, time.Minute, "a.txt")

	var mu sync.Mutex
	ids := map[string]bool{}
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := reg.GetOrCreate(context.Background(), "a.txt", engine.KindDocument)
			assert.NoError(t, err)
			mu.Lock()
			ids[s.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)

	list, err := reg.List("")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "document:a.txt", list[0].RoomID)
	assert.Zero(t, list[0].Participants, "get_or_create does not join")
}

func TestNotebookSessionLifecycle(t *testing.T) {
	reg, _, ev := setupRegistry(t, 300*time.Millisecond, "nb.ipynb")
	ctx := context.Background()

	s, err := reg.GetOrCreate(ctx, "nb.ipynb", engine.KindNotebook)
	require.NoError(t, err)

	_, err = reg.Join(ctx, s.ID, "alice")
	require.NoError(t, err)
	joined, err := reg.Join(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, joined.Participants)
	assert.Equal(t, []string{"alice", "bob"}, joined.Users)

	left, err := reg.Leave(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, left.Participants)

	time.Sleep(400 * time.Millisecond)
	_, err = reg.Session(s.ID)
	require.NoError(t, err, "one participant keeps the session alive")

	left, err = reg.Leave(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, left.Participants)

	again, err := reg.GetOrCreate(ctx, "nb.ipynb", engine.KindNotebook)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID, "reconnect within the grace period")

	assert.Eventually(t, func() bool {
		_, err := reg.Session(s.ID)
		return err != nil
	}, 3*time.Second, 20*time.Millisecond)

	types := eventTypes(t, ev, events.DocStream("nb.ipynb"))
	assert.Equal(t, []string{
		session.EventJoin, session.EventJoin, session.EventLeave, session.EventLeave, session.EventClosed,
	}, types)

	fresh, err := reg.GetOrCreate(ctx, "nb.ipynb", engine.KindNotebook)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestJoinCancelsTeardown(t *testing.T) {
	reg, _, _ := setupRegistry(t, 100*time.Millisecond, "a.txt")
	ctx := context.Background()

	s, err := reg.GetOrCreate(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)
	_, err = reg.Join(ctx, s.ID, "alice")
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)
	got, err := reg.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Participants)
}

func TestLeaveAtZeroIsNoop(t *testing.T) {
	reg, _, ev := setupRegistry(t, time.Minute, "a.txt")
	ctx := context.Background()

	s, err := reg.GetOrCreate(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)
	got, err := reg.Leave(ctx, s.ID, "ghost")
	require.NoError(t, err)
	assert.Zero(t, got.Participants)
	assert.Empty(t, eventTypes(t, ev, events.DocStream("a.txt")))
}

func TestLeaveByNonParticipantIsNoop(t *testing.T) {
	reg, _, ev := setupRegistry(t, time.Minute, "a.txt")
	ctx := context.Background()

	s, err := reg.GetOrCreate(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)
	_, err = reg.Join(ctx, s.ID, "alice")
	require.NoError(t, err)

	got, err := reg.Leave(ctx, s.ID, "mallory")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Participants)
	assert.Equal(t, []string{"alice"}, got.Users)
	assert.Equal(t, []string{session.EventJoin}, eventTypes(t, ev, events.DocStream("a.txt")))

	got, err = reg.Leave(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, got.Participants)
}

func TestErrors(t *testing.T) {
	reg, _, _ := setupRegistry(t, time.Minute, "a.txt")
	ctx := context.Background()

	_, err := reg.Join(ctx, "missing", "alice")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = reg.Session("missing")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = reg.GetOrCreate(ctx, "nope.txt", engine.KindDocument)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = reg.GetOrCreate(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)
	_, err = reg.GetOrCreate(ctx, "a.txt", engine.KindNotebook)
	assert.ErrorIs(t, err, engine.ErrKindMismatch)
}

func TestExternalUpdatesAreForwarded(t *testing.T) {
	reg, eng, ev := setupRegistry(t, time.Minute, "a.txt")
	ctx := context.Background()

	_, err := reg.With(ctx, "a.txt", engine.KindDocument, func(h *engine.Handle) error {
		_, err := eng.Apply(ctx, h, engine.Op{Type: engine.OpInsert, Text: "own"})
		return err
	})
	require.NoError(t, err)

	other, err := eng.Open(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)
	defer eng.Close(other)
	_, err = eng.Apply(ctx, other, engine.Op{Type: engine.OpInsert, Text: "theirs"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return slices.Contains(eventTypes(t, ev, events.DocStream("a.txt")), session.EventExternal)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, eventTypes(t, ev, events.DocStream("a.txt")), 1, "own updates are not forwarded")
}

func TestListFilter(t *testing.T) {
	reg, _, _ := setupRegistry(t, time.Minute, "docs/a.md", "docs/deep/b.md", "notes/c.txt")
	ctx := context.Background()
	for _, p := range []string{"docs/a.md", "docs/deep/b.md", "notes/c.txt"} {
		_, err := reg.GetOrCreate(ctx, p, engine.KindDocument)
		require.NoError(t, err)
	}

	tests := []struct {
		filter string
		want   int
	}{
		{"", 3},
		{"docs/", 2},
		{"docs/**", 2},
		{"*.txt", 1},
		{"missing/", 0},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			list, err := reg.List(tt.filter)
			require.NoError(t, err)
			assert.Len(t, list, tt.want)
		})
	}
}
