// runner.go executes a selection of notebook cells through the document
// adapter, so outputs land in the shared notebook as ordinary set_outputs
// operations with version history and events like any other edit.

package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
)

// Origin tags the set_outputs operations the runner applies.
const Origin = "exec"

// Cell statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// Codes reported on failed cells.
const (
	CodeTimeout   = "execution_timeout"
	CodeExecution = "execution_error"
)

// ErrSelection is returned when the requested cells do not exist.
var ErrSelection = errors.New("invalid cell selection")

// Documents is the part of the document adapter the runner needs.
type Documents interface {
	Snapshot(ctx context.Context, h *engine.Handle) (engine.Content, error)
	ApplyBatch(ctx context.Context, h *engine.Handle, ops []engine.Op, opts document.BatchOptions) (*document.BatchResult, error)
}

// Selection names cells either by id or by an inclusive index range.
type Selection struct {
	CellIDs []string
	Start   *int
	End     *int
}

// CellResult reports one cell.
type CellResult struct {
	CellID         string          `json:"cell_id"`
	Index          int             `json:"index"`
	Status         string          `json:"status"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	Outputs        []engine.Output `json:"outputs"`
	DurationMS     int64           `json:"duration_ms"`
}

// Runner executes cells with a kernel.
type Runner struct {
	kernel Kernel
	docs   Documents
}

// NewRunner returns a runner.
func NewRunner(k Kernel, docs Documents) *Runner {
	return &Runner{kernel: k, docs: docs}
}

// Run executes the selected cells of h's notebook in order, each bounded
// by timeout (DefaultTimeout when zero). Every cell is attempted and a
// failing cell is reported in its result. The error is non-nil for a bad
// selection or when the notebook cannot be read.
//
// The notebook is not locked while cells run. Outputs are written with the
// executed source as the expected cell content, so a cell edited in the
// meantime keeps its outputs unchanged.
func (r *Runner) Run(ctx context.Context, h *engine.Handle, sel Selection, timeout time.Duration, author string) ([]CellResult, error) {
	if h.Kind() != engine.KindNotebook {
		return nil, fmt.Errorf("%w: %s is not a notebook", engine.ErrKindMismatch, h.Path())
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	snap, err := r.docs.Snapshot(ctx, h)
	if err != nil {
		return nil, err
	}
	nb := snap.Notebook
	if nb == nil {
		nb = engine.NewNotebook()
	}
	indices, err := resolve(nb, sel)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, c := range nb.Cells {
		if c.ExecutionCount != nil && *c.ExecutionCount > count {
			count = *c.ExecutionCount
		}
	}

	results := make([]CellResult, 0, len(indices))
	for _, i := range indices {
		cell := nb.Cells[i]
		res := CellResult{CellID: cell.ID, Index: i, Outputs: []engine.Output{}}
		if cell.Type != engine.CellCode {
			res.Status = StatusSkipped
			res.Error = cell.Type + " cells are not executed"
			results = append(results, res)
			continue
		}

		count++
		n := count
		res.ExecutionCount = &n

		cctx, cancel := context.WithTimeout(ctx, timeout)
		out, err := r.kernel.Execute(cctx, cell.Source)
		cancel()
		res.DurationMS = out.Duration.Milliseconds()
		res.Outputs = Outputs(out, err)
		switch {
		case err == nil:
			res.Status = StatusOK
		case errors.Is(err, ErrTimeout):
			res.Status, res.Code, res.Error = StatusTimeout, CodeTimeout, err.Error()
		default:
			res.Status, res.Code, res.Error = StatusError, CodeExecution, err.Error()
		}

		source := cell.Source
		op := engine.Op{Type: engine.OpSetOutputs, CellID: cell.ID, Outputs: res.Outputs, ExecutionCount: &n, Expect: &source}
		br, err := r.docs.ApplyBatch(ctx, h, []engine.Op{op}, document.BatchOptions{Author: author, Origin: Origin})
		if err == nil {
			err = br.Err()
		}
		if err != nil {
			slog.Warn("write cell outputs", "path", h.Path(), "cell", cell.ID, "error", err)
			res.Error = strings.TrimPrefix(res.Error+"; ", "; ") + "outputs not written: " + err.Error()
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results, nil
}

// resolve turns sel into cell indices of nb.
func resolve(nb *engine.Notebook, sel Selection) ([]int, error) {
	if len(sel.CellIDs) > 0 {
		out := make([]int, 0, len(sel.CellIDs))
		for _, id := range sel.CellIDs {
			i, err := nb.Find(id, -1)
			if err != nil {
				return nil, fmt.Errorf("%w: cell %q not found", ErrSelection, id)
			}
			out = append(out, i)
		}
		return out, nil
	}
	if sel.Start == nil || sel.End == nil {
		return nil, fmt.Errorf("%w: either cell ids or start and end index are required", ErrSelection)
	}
	start, end := *sel.Start, *sel.End
	if start < 0 || end < start || end >= len(nb.Cells) {
		return nil, fmt.Errorf("%w: range [%d,%d] outside notebook of %d cells", ErrSelection, start, end, len(nb.Cells))
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}

// Outputs renders a kernel result as nbformat outputs.
func Outputs(res Result, err error) []engine.Output {
	out := []engine.Output{}
	if res.Stdout != "" {
		out = append(out, engine.Output{"output_type": "stream", "name": "stdout", "text": res.Stdout})
	}
	if res.Stderr != "" {
		out = append(out, engine.Output{"output_type": "stream", "name": "stderr", "text": res.Stderr})
	}
	if err != nil {
		ename := "ExecutionError"
		if errors.Is(err, ErrTimeout) {
			ename = "TimeoutError"
		}
		tb := []string{}
		if res.Stderr != "" {
			tb = strings.Split(strings.TrimRight(res.Stderr, "\n"), "\n")
		}
		out = append(out, engine.Output{
			"output_type": "error",
			"ename":       ename,
			"evalue":      err.Error(),
			"traceback":   tb,
		})
	}
	return out
}
