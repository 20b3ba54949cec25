package engine_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jpl-au/collab/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocal(t *testing.T, files map[string]string) *engine.Local {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	e, err := engine.NewLocal(root)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, engine.KindNotebook, engine.KindOf("work/nb.ipynb"))
	assert.Equal(t, engine.KindNotebook, engine.KindOf("NB.IPYNB"))
	assert.Equal(t, engine.KindDocument, engine.KindOf("a.txt"))
	assert.Equal(t, "markdown", engine.FileType("README.md"))
	assert.Equal(t, "text", engine.FileType("a.txt"))
	assert.Equal(t, "notebook", engine.FileType("nb.ipynb"))
}

func TestApplyText(t *testing.T) {
	c := engine.TextContent("héllo")

	tests := []struct {
		name string
		op   engine.Op
		want string
		bad  bool
	}{
		{"insert start", engine.Op{Type: engine.OpInsert, Pos: 0, Text: ">"}, ">héllo", false},
		{"insert end", engine.Op{Type: engine.OpInsert, Pos: 5, Text: "!"}, "héllo!", false},
		{"insert past end", engine.Op{Type: engine.OpInsert, Pos: 6, Text: "!"}, "", true},
		{"delete counts code points", engine.Op{Type: engine.OpDelete, Pos: 1, Len: 1}, "hllo", false},
		{"delete past end", engine.Op{Type: engine.OpDelete, Pos: 3, Len: 3}, "", true},
		{"negative position", engine.Op{Type: engine.OpDelete, Pos: -1, Len: 1}, "", true},
		{"replace", engine.Op{Type: engine.OpReplace, Pos: 0, Len: 5, Text: "bye"}, "bye", false},
		{"reset", engine.Op{Type: engine.OpReset, Text: "new"}, "new", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Apply(c, tt.op)
			if tt.bad {
				require.ErrorIs(t, err, engine.ErrBadOp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Text)
			assert.Equal(t, "héllo", c.Text, "input is not modified")
		})
	}

	_, err := engine.Apply(c, engine.Op{Type: engine.OpDeleteCell})
	assert.ErrorIs(t, err, engine.ErrKindMismatch)
}

func TestApplyCells(t *testing.T) {
	c := engine.NotebookContent(engine.NewNotebook())

	c, err := engine.Apply(c, engine.Op{Type: engine.OpInsertCell, Index: 0, Cell: &engine.Cell{ID: "a", Source: "x = 1"}})
	require.NoError(t, err)
	c, err = engine.Apply(c, engine.Op{Type: engine.OpInsertCell, Index: 0, Cell: &engine.Cell{ID: "b", Type: engine.CellMarkdown, Source: "# T"}})
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, "b", c.Notebook.Cells[0].ID)
	assert.Equal(t, engine.CellCode, c.Notebook.Cells[1].Type, "type defaults to code")

	_, err = engine.Apply(c, engine.Op{Type: engine.OpInsertCell, Index: 0, Cell: &engine.Cell{ID: "a"}})
	assert.ErrorIs(t, err, engine.ErrBadOp, "duplicate id")

	c, err = engine.Apply(c, engine.Op{Type: engine.OpUpdateCell, CellID: "a", Text: "x = 2"})
	require.NoError(t, err)
	cell, ok := c.Notebook.Cell("a")
	require.True(t, ok)
	assert.Equal(t, "x = 2", cell.Source)

	one := 1
	c, err = engine.Apply(c, engine.Op{Type: engine.OpSetOutputs, CellID: "a", Outputs: []engine.Output{{"output_type": "stream"}}, ExecutionCount: &one})
	require.NoError(t, err)
	_, err = engine.Apply(c, engine.Op{Type: engine.OpSetOutputs, CellID: "b"})
	assert.ErrorIs(t, err, engine.ErrBadOp, "markdown cells have no outputs")

	c, err = engine.Apply(c, engine.Op{Type: engine.OpDeleteCell, Index: 0})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "a", c.Notebook.Cells[0].ID)

	_, err = engine.Apply(c, engine.Op{Type: engine.OpDeleteCell, Index: 3})
	assert.ErrorIs(t, err, engine.ErrBadOp)
}

func TestNotebookRoundTrip(t *testing.T) {
	raw := `{"cells":[{"cell_type":"code","source":["a = 1\n","b = 2"],"metadata":{},"outputs":[],"execution_count":null},
	{"cell_type":"markdown","id":"md","source":"# Title","metadata":{}}],"metadata":{},"nbformat":4,"nbformat_minor":4}`

	nb, err := engine.ParseNotebook([]byte(raw))
	require.NoError(t, err)
	require.Len(t, nb.Cells, 2)
	assert.Equal(t, "a = 1\nb = 2", nb.Cells[0].Source)
	assert.NotEmpty(t, nb.Cells[0].ID, "missing ids are generated")
	assert.Equal(t, "md", nb.Cells[1].ID)

	data, err := nb.Encode()
	require.NoError(t, err)
	again, err := engine.ParseNotebook(data)
	require.NoError(t, err)
	assert.Equal(t, nb.Cells[0].ID, again.Cells[0].ID)
	assert.Equal(t, nb.Cells[1].Source, again.Cells[1].Source)

	md, err := json.Marshal(nb.Cells[1])
	require.NoError(t, err)
	assert.NotContains(t, string(md), "outputs", "markdown cells carry no outputs")
	code, err := json.Marshal(nb.Cells[0])
	require.NoError(t, err)
	assert.Contains(t, string(code), `"execution_count":null`)

	empty, err := engine.ParseNotebook(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, empty.NBFormat)
	assert.Empty(t, empty.Cells)
}

func TestLocalOpenApplyPersists(t *testing.T) {
	e := setupLocal(t, map[string]string{"a.txt": ""})
	ctx := context.Background()

	_, err := e.Open(ctx, "missing.txt", engine.KindDocument)
	require.ErrorIs(t, err, engine.ErrNotFound)
	_, err = e.Open(ctx, "../escape.txt", engine.KindDocument)
	require.ErrorIs(t, err, engine.ErrNotFound)

	h, err := e.Open(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)

	res, err := e.Apply(ctx, h, engine.Op{Type: engine.OpInsert, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Length)

	data, err := os.ReadFile(filepath.Join(e.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	snap, err := e.Snapshot(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Text)

	require.NoError(t, e.Close(h))
	_, err = e.Apply(ctx, h, engine.Op{Type: engine.OpInsert, Text: "x"})
	assert.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestLocalSubscribeSharedReplica(t *testing.T) {
	e := setupLocal(t, map[string]string{"a.txt": "abc"})
	ctx := context.Background()

	h1, err := e.Open(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)
	h2, err := e.Open(ctx, "a.txt", engine.KindDocument)
	require.NoError(t, err)

	updates, cancel := e.Subscribe(h1)
	defer cancel()

	_, err = e.Apply(ctx, h2, engine.Op{Type: engine.OpDelete, Pos: 0, Len: 1})
	require.NoError(t, err)

	u := <-updates
	assert.Equal(t, h2.ID(), u.Origin)
	assert.Equal(t, 2, u.Length)

	snap, err := e.Snapshot(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, "bc", snap.Text)
}

func TestLocalCreateAndList(t *testing.T) {
	e := setupLocal(t, map[string]string{"docs/a.md": "# A", "nb.ipynb": "", ".collab/x.txt": "hidden"})
	ctx := context.Background()

	h, err := e.Create(ctx, "docs/b.txt", engine.TextContent("b"))
	require.NoError(t, err)
	assert.Equal(t, "docs/b.txt", h.Path())
	_, err = e.Create(ctx, "docs/b.txt", engine.TextContent("b"))
	assert.ErrorIs(t, err, engine.ErrExists)

	docs, err := e.List(ctx, engine.KindDocument, "")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "docs/a.md", docs[0].Path)
	assert.Equal(t, "markdown", docs[0].Type)

	nbs, err := e.List(ctx, engine.KindNotebook, "")
	require.NoError(t, err)
	require.Len(t, nbs, 1)

	_, err = e.Open(ctx, "nb.ipynb", engine.KindNotebook)
	require.NoError(t, err)
	_, err = e.Open(ctx, "nb.ipynb", engine.KindDocument)
	assert.ErrorIs(t, err, engine.ErrKindMismatch)
}
