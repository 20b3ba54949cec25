package fork_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/fork"
	"github.com/jpl-au/collab/internal/session"
	"github.com/jpl-au/collab/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	docs     *document.Adapter
	sessions *session.Registry
	events   *events.Store
	store    *store.SQLiteStore
	forks    *fork.Manager
}

func setupForks(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	eng, err := engine.NewLocal(root)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "collab.db"))
	require.NoError(t, err)
	require.NoError(t, st.Init())

	ev := events.NewStore(events.Options{})
	docs := document.New(eng, st, ev)
	reg := session.NewRegistry(docs, ev, session.Options{IdleGrace: time.Minute})
	m := fork.NewManager(docs, reg, ev, st)
	t.Cleanup(func() {
		m.Close()
		reg.Close()
		eng.Shutdown()
		st.Close()
	})
	return &fixture{docs: docs, sessions: reg, events: ev, store: st, forks: m}
}

func (fx *fixture) edit(t *testing.T, path string, ops ...engine.Op) *document.BatchResult {
	t.Helper()
	var res *document.BatchResult
	_, err := fx.sessions.With(context.Background(), path, engine.KindOf(path), func(h *engine.Handle) error {
		var err error
		res, err = fx.docs.ApplyBatch(context.Background(), h, ops, document.BatchOptions{Author: "test"})
		return err
	})
	require.NoError(t, err)
	return res
}

func (fx *fixture) content(t *testing.T, path string) engine.Content {
	t.Helper()
	var c engine.Content
	_, err := fx.sessions.With(context.Background(), path, engine.KindOf(path), func(h *engine.Handle) error {
		var err error
		c, err = fx.docs.Snapshot(context.Background(), h)
		return err
	})
	require.NoError(t, err)
	return c
}

// text is content for use inside Eventually, where require cannot stop
// the test.
func (fx *fixture) text(path string) string {
	var c engine.Content
	_, err := fx.sessions.With(context.Background(), path, engine.KindOf(path), func(h *engine.Handle) error {
		var err error
		c, err = fx.docs.Snapshot(context.Background(), h)
		return err
	})
	if err != nil {
		return ""
	}
	return c.Text
}

func ins(pos int, s string) engine.Op {
	return engine.Op{Type: engine.OpInsert, Pos: pos, Text: s}
}

func TestForkPath(t *testing.T) {
	assert.Equal(t, "a.fork-1a2b3c4d.txt", fork.ForkPath("a.txt", "1a2b3c4d"))
	assert.Equal(t, "dir/nb.fork-x.ipynb", fork.ForkPath("dir/nb.ipynb", "x"))
	assert.Equal(t, "README.fork-x", fork.ForkPath("README", "x"))
}

func TestForkMergeRoundTrip(t *testing.T) {
	const original = "The quick brown fox jumps over the lazy dog"
	fx := setupForks(t, map[string]string{"a.txt": original})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Fork of a.txt", f.Title)
	assert.Equal(t, fork.StateCreated, f.State)
	assert.Equal(t, original, fx.content(t, f.ForkPath).Text)

	edits := []engine.Op{
		{Type: engine.OpReplace, Pos: 4, Len: 5, Text: "slow"},
		{Type: engine.OpInsert, Pos: 19, Text: "happily "},
		{Type: engine.OpDelete, Pos: 41, Len: 5},
	}
	res := fx.edit(t, f.ForkPath, edits...)
	require.Equal(t, 3, res.Applied)

	want := engine.TextContent(original)
	for _, op := range edits {
		want, err = engine.Apply(want, op)
		require.NoError(t, err)
	}

	merged, err := fx.forks.Merge(ctx, "a.txt", f.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, merged.Conflicts)
	assert.NoError(t, merged.Err())
	assert.Equal(t, fork.StateMerged, merged.Fork.State)
	assert.Equal(t, "The slow brown fox happily jumps over the dog", want.Text)
	assert.Equal(t, want.Text, fx.content(t, "a.txt").Text)

	_, err = fx.forks.Merge(ctx, "a.txt", f.ID, "alice")
	assert.ErrorIs(t, err, fork.ErrClosed)
	assert.ErrorIs(t, fx.forks.CheckOpen(f.ForkPath), fork.ErrClosed)
	assert.NoError(t, fx.forks.CheckOpen("a.txt"))
}

func TestMergeKeepsConcurrentSourceEdits(t *testing.T) {
	fx := setupForks(t, map[string]string{"a.txt": "alpha beta gamma"})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{})
	require.NoError(t, err)
	fx.edit(t, f.ForkPath, engine.Op{Type: engine.OpReplace, Pos: 11, Len: 5, Text: "GAMMA"})
	fx.edit(t, "a.txt", ins(0, ">> "))

	merged, err := fx.forks.Merge(ctx, "a.txt", f.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, merged.Conflicts)
	assert.Equal(t, 1, merged.Applied)
	assert.Equal(t, ">> alpha beta GAMMA", fx.content(t, "a.txt").Text)
}

func TestMergeReportsConflicts(t *testing.T) {
	fx := setupForks(t, map[string]string{"a.txt": "one two three"})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{})
	require.NoError(t, err)
	fx.edit(t, f.ForkPath, engine.Op{Type: engine.OpReplace, Pos: 4, Len: 3, Text: "TWO"})
	fx.edit(t, "a.txt", engine.Op{Type: engine.OpReplace, Pos: 4, Len: 3, Text: "2"})

	merged, err := fx.forks.Merge(ctx, "a.txt", f.ID, "bob")
	require.NoError(t, err, "conflicts are results")
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, 4, merged.Conflicts[0].Start)
	assert.ErrorIs(t, merged.Err(), fork.ErrMergeConflict)
	assert.Equal(t, "one 2 three", fx.content(t, "a.txt").Text, "source wins on conflict")
	assert.Equal(t, fork.StateMerged, merged.Fork.State)
}

func TestIdenticalChangesDoNotConflict(t *testing.T) {
	fx := setupForks(t, map[string]string{"a.txt": "colour"})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{})
	require.NoError(t, err)
	fx.edit(t, f.ForkPath, engine.Op{Type: engine.OpReplace, Pos: 0, Len: 6, Text: "color"})
	fx.edit(t, "a.txt", engine.Op{Type: engine.OpReplace, Pos: 0, Len: 6, Text: "color"})

	merged, err := fx.forks.Merge(ctx, "a.txt", f.ID, "")
	require.NoError(t, err)
	assert.Empty(t, merged.Conflicts)
	assert.Equal(t, "color", fx.content(t, "a.txt").Text)
}

func TestSynchronizedFork(t *testing.T) {
	fx := setupForks(t, map[string]string{"a.txt": "header\nbody\nfooter\n"})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{Synchronize: true, Title: "sync"})
	require.NoError(t, err)
	assert.Equal(t, fork.StateSynchronizing, f.State)

	// The fork edits the body; the source appends after the footer.
	fx.edit(t, f.ForkPath, engine.Op{Type: engine.OpReplace, Pos: 7, Len: 4, Text: "BODY TEXT"})
	fx.edit(t, "a.txt", ins(19, "more\n"))

	assert.Eventually(t, func() bool {
		return fx.text(f.ForkPath) == "header\nBODY TEXT\nfooter\nmore\n"
	}, 2*time.Second, 10*time.Millisecond)

	// An edit to the body in the source collides with the fork's edit.
	fx.edit(t, "a.txt", engine.Op{Type: engine.OpReplace, Pos: 7, Len: 4, Text: "corpus"})
	assert.Eventually(t, func() bool {
		got, err := fx.forks.Get("a.txt", f.ID)
		return err == nil && len(got.Skipped) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := fx.forks.Get("a.txt", f.ID)
	require.NoError(t, err)
	assert.Equal(t, fork.StateSynchronizing, got.State, "a skip does not end synchronization")
	assert.Contains(t, got.Skipped[0].Reason, "overlaps fork edits")
	require.NotNil(t, got.Skipped[0].Op)

	// Later compatible operations still replay.
	fx.edit(t, "a.txt", ins(0, "# "))
	assert.Eventually(t, func() bool {
		return fx.text(f.ForkPath) == "# header\nBODY TEXT\nfooter\nmore\n"
	}, 2*time.Second, 10*time.Millisecond)

	merged, err := fx.forks.Merge(ctx, "a.txt", f.ID, "")
	require.NoError(t, err)
	require.Len(t, merged.Conflicts, 1, "the skipped change conflicts on merge")
	assert.Equal(t, 9, merged.Conflicts[0].Start)
	assert.Equal(t, "# header\ncorpus\nfooter\nmore\n", fx.content(t, "a.txt").Text, "the source change survives")
}

func TestAbandonAndOwnership(t *testing.T) {
	fx := setupForks(t, map[string]string{"a.txt": "x", "b.txt": "y"})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{Description: "try"})
	require.NoError(t, err)

	_, err = fx.forks.Merge(ctx, "b.txt", f.ID, "")
	assert.ErrorIs(t, err, fork.ErrNotFound, "fork belongs to a.txt")
	_, err = fx.forks.Get("a.txt", "missing")
	assert.ErrorIs(t, err, fork.ErrNotFound)

	got, err := fx.forks.Abandon(ctx, "a.txt", f.ID)
	require.NoError(t, err)
	assert.Equal(t, fork.StateAbandoned, got.State)
	require.NotNil(t, got.ClosedAt)

	_, err = fx.forks.Abandon(ctx, "a.txt", f.ID)
	assert.ErrorIs(t, err, fork.ErrClosed)
	assert.ErrorIs(t, fx.forks.CheckOpen(f.ForkPath), fork.ErrClosed)

	list := fx.forks.List("a.txt")
	require.Len(t, list, 1)
	assert.Empty(t, fx.forks.List("b.txt"))
}

func TestNotebookMerge(t *testing.T) {
	fx := setupForks(t, map[string]string{"nb.ipynb": ""})
	ctx := context.Background()
	fx.edit(t, "nb.ipynb",
		engine.Op{Type: engine.OpInsertCell, Index: 0, Cell: &engine.Cell{ID: "a", Source: "a = 1"}},
		engine.Op{Type: engine.OpInsertCell, Index: 1, Cell: &engine.Cell{ID: "b", Source: "b = 2"}},
	)

	f, err := fx.forks.Create(ctx, "nb.ipynb", fork.Options{})
	require.NoError(t, err)
	assert.Equal(t, engine.KindNotebook, f.Kind)

	fx.edit(t, f.ForkPath,
		engine.Op{Type: engine.OpUpdateCell, CellID: "a", Text: "a = 10"},
		engine.Op{Type: engine.OpInsertCell, Index: 1, Cell: &engine.Cell{ID: "new", Type: engine.CellMarkdown, Source: "# added"}},
	)
	fx.edit(t, "nb.ipynb", engine.Op{Type: engine.OpUpdateCell, CellID: "b", Text: "b = 20"})

	merged, err := fx.forks.Merge(ctx, "nb.ipynb", f.ID, "")
	require.NoError(t, err)
	assert.Empty(t, merged.Conflicts)
	assert.Equal(t, 2, merged.Applied)

	nb := fx.content(t, "nb.ipynb").Notebook
	require.Len(t, nb.Cells, 3)
	assert.Equal(t, []string{"a", "new", "b"}, []string{nb.Cells[0].ID, nb.Cells[1].ID, nb.Cells[2].ID})
	assert.Equal(t, "a = 10", nb.Cells[0].Source)
	assert.Equal(t, "b = 20", nb.Cells[2].Source)
}

func TestLoadRestoresForks(t *testing.T) {
	fx := setupForks(t, map[string]string{"a.txt": "base"})
	ctx := context.Background()

	f, err := fx.forks.Create(ctx, "a.txt", fork.Options{Synchronize: true})
	require.NoError(t, err)
	fx.edit(t, f.ForkPath, ins(4, "!"))

	restarted := fork.NewManager(fx.docs, fx.sessions, fx.events, fx.store)
	require.NoError(t, restarted.Load(ctx))
	t.Cleanup(restarted.Close)

	got, err := restarted.Get("a.txt", f.ID)
	require.NoError(t, err)
	assert.Equal(t, fork.StateCreated, got.State, "synchronization is not resumed")
	require.Len(t, got.Skipped, 1)

	merged, err := restarted.Merge(ctx, "a.txt", f.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, merged.Applied)
	assert.Equal(t, "base!", fx.content(t, "a.txt").Text)
}
