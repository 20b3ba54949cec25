package exec_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/exec"
	"github.com/jpl-au/collab/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessKernel(t *testing.T) {
	k, err := exec.NewProcess([]string{"sh"}, t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("stdout", func(t *testing.T) {
		res, err := k.Execute(ctx, "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", res.Stdout)
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := k.Execute(ctx, "echo oops >&2; exit 3")
		require.ErrorIs(t, err, exec.ErrExecution)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "oops\n", res.Stderr)
	})

	t.Run("timeout", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := k.Execute(tctx, "sleep 5")
		assert.ErrorIs(t, err, exec.ErrTimeout)
	})

	_, err = exec.NewProcess(nil, "")
	assert.ErrorIs(t, err, exec.ErrExecution)
	assert.Equal(t, []string{"python3", "-u"}, exec.ParseCommand(" python3  -u "))
}

func TestOutputs(t *testing.T) {
	out := exec.Outputs(exec.Result{Stdout: "1\n", Stderr: "line1\nline2\n"}, fmt.Errorf("%w: exit status 1", exec.ErrExecution))
	require.Len(t, out, 3)
	assert.Equal(t, "stdout", out[0]["name"])
	assert.Equal(t, "stderr", out[1]["name"])
	assert.Equal(t, "error", out[2]["output_type"])
	assert.Equal(t, "ExecutionError", out[2]["ename"])
	assert.Equal(t, []string{"line1", "line2"}, out[2]["traceback"])

	out = exec.Outputs(exec.Result{}, exec.ErrTimeout)
	require.Len(t, out, 1)
	assert.Equal(t, "TimeoutError", out[0]["ename"])

	assert.Empty(t, exec.Outputs(exec.Result{}, nil))
}

// fakeKernel answers by source; "hang" blocks until the deadline.
type fakeKernel struct{}

func (fakeKernel) Execute(ctx context.Context, code string) (exec.Result, error) {
	switch code {
	case "hang":
		<-ctx.Done()
		return exec.Result{}, exec.ErrTimeout
	case "fail":
		return exec.Result{Stderr: "boom\n", ExitCode: 1}, fmt.Errorf("%w: exit status 1", exec.ErrExecution)
	}
	return exec.Result{Stdout: "ran " + code + "\n"}, nil
}

const notebook = `{"cells":[
{"cell_type":"code","id":"a","source":"a","metadata":{},"outputs":[],"execution_count":4},
{"cell_type":"markdown","id":"md","source":"# T","metadata":{}},
{"cell_type":"code","id":"f","source":"fail","metadata":{},"outputs":[],"execution_count":null},
{"cell_type":"code","id":"h","source":"hang","metadata":{},"outputs":[],"execution_count":null}
],"metadata":{},"nbformat":4,"nbformat_minor":5}`

func setupRunner(t *testing.T) (*exec.Runner, *document.Adapter, *engine.Handle) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "nb.ipynb"), []byte(notebook), 0644))
	eng, err := engine.NewLocal(root)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "collab.db"))
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() {
		eng.Shutdown()
		st.Close()
	})

	docs := document.New(eng, st, events.NewStore(events.Options{}))
	h, err := docs.Open(context.Background(), "nb.ipynb", engine.KindNotebook)
	require.NoError(t, err)
	return exec.NewRunner(fakeKernel{}, docs), docs, h
}

func intp(n int) *int { return &n }

func TestRunWritesOutputs(t *testing.T) {
	r, docs, h := setupRunner(t)
	ctx := context.Background()

	results, err := r.Run(ctx, h, exec.Selection{Start: intp(0), End: intp(3)}, 50*time.Millisecond, "alice")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, exec.StatusOK, results[0].Status)
	require.NotNil(t, results[0].ExecutionCount)
	assert.Equal(t, 5, *results[0].ExecutionCount, "counts continue from the notebook's highest")
	assert.Equal(t, exec.StatusSkipped, results[1].Status)
	assert.Equal(t, exec.StatusError, results[2].Status)
	assert.Equal(t, exec.CodeExecution, results[2].Code)
	assert.Equal(t, exec.StatusTimeout, results[3].Status)
	assert.Equal(t, exec.CodeTimeout, results[3].Code)

	snap, err := docs.Snapshot(ctx, h)
	require.NoError(t, err)
	a, _ := snap.Notebook.Cell("a")
	require.Len(t, a.Outputs, 1)
	assert.Equal(t, "ran a\n", a.Outputs[0]["text"])
	f, _ := snap.Notebook.Cell("f")
	require.Len(t, f.Outputs, 2)
	assert.Equal(t, "error", f.Outputs[1]["output_type"])

	versions, err := docs.History(ctx, "nb.ipynb", 0)
	require.NoError(t, err)
	assert.Len(t, versions, 3, "one version per executed cell")
}

func TestRunSelection(t *testing.T) {
	r, _, h := setupRunner(t)
	ctx := context.Background()

	results, err := r.Run(ctx, h, exec.Selection{CellIDs: []string{"a"}}, 0, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].CellID)

	_, err = r.Run(ctx, h, exec.Selection{CellIDs: []string{"missing"}}, 0, "")
	assert.ErrorIs(t, err, exec.ErrSelection)
	_, err = r.Run(ctx, h, exec.Selection{Start: intp(2), End: intp(9)}, 0, "")
	assert.ErrorIs(t, err, exec.ErrSelection)
	_, err = r.Run(ctx, h, exec.Selection{}, 0, "")
	assert.ErrorIs(t, err, exec.ErrSelection)
}
