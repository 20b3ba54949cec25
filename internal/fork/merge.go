// merge.go implements three-way merge of a fork back into its source.
//
// The fork's changes are the hunks between the ancestor and the fork; the
// source's changes are the hunks between the ancestor and the source's
// current content. A fork hunk that touches a source hunk is a conflict
// unless both made the identical change. The rest are shifted into source
// coordinates and applied as one batch, guarded by the ancestor text they
// expect to replace, so a concurrent edit turns into a reported conflict
// instead of a misplaced change. Fork changes in regions where
// synchronisation skipped a source operation are conflicts too. Notebooks
// merge per cell id.

package fork

import (
	"context"
	"fmt"

	"github.com/jpl-au/collab/internal/diff"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/store"
)

// Conflict is a fork change that was not applied. Start and End are code
// point offsets in the merge ancestor; CellID is set for notebooks.
type Conflict struct {
	Start  int        `json:"start"`
	End    int        `json:"end"`
	CellID string     `json:"cell_id,omitempty"`
	Reason string     `json:"reason"`
	Op     *engine.Op `json:"op,omitempty"`
}

// MergeResult reports what a merge applied and what it could not.
type MergeResult struct {
	Fork      Fork               `json:"fork"`
	Applied   int                `json:"applied"`
	Conflicts []Conflict         `json:"conflicts"`
	Version   *store.VersionJSON `json:"version,omitempty"`
}

// Err returns ErrMergeConflict when any change was left unapplied.
func (r *MergeResult) Err() error {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d change(s) not applied", ErrMergeConflict, len(r.Conflicts))
}

// Merge applies fork id's changes to its source p and closes the fork.
// Conflicts are reported in the result; the fork is merged either way. If
// the engine fails mid-merge the fork stays open and the error is returned
// with whatever was applied.
func (m *Manager) Merge(ctx context.Context, p, id, author string) (*MergeResult, error) {
	f, err := m.lookup(p, id)
	if err != nil {
		return nil, err
	}
	f.closeSub()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec.Closed() {
		return nil, fmt.Errorf("%w: %s was %s", ErrClosed, id, f.rec.State)
	}
	if f.rec.State == StateSynchronizing {
		f.rec.State = StateCreated
	}

	h, err := m.handleLocked(ctx, f)
	if err != nil {
		return nil, err
	}
	forked, err := m.docs.Snapshot(ctx, h)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{Conflicts: []Conflict{}}
	_, err = m.sessions.With(ctx, p, f.rec.Kind, func(src *engine.Handle) error {
		cur, err := m.docs.Snapshot(ctx, src)
		if err != nil {
			return err
		}
		ops, conflicts := plan(f.ancestor, forked, cur, &f.contested)
		res.Conflicts = append(res.Conflicts, conflicts...)
		if len(ops) == 0 {
			return nil
		}
		br, err := m.docs.ApplyBatch(ctx, src, ops, document.BatchOptions{
			Author:          author,
			ContinueOnError: true,
			Origin:          "merge:" + id,
		})
		if br != nil {
			res.Applied = br.Applied
			res.Version = br.Version
			for _, fl := range br.Failed {
				op := ops[fl.Index]
				res.Conflicts = append(res.Conflicts, conflictFor(f.ancestor, op, fl.Reason))
			}
		}
		return err
	})
	if err != nil {
		return res, err
	}

	m.closeLocked(ctx, f, StateMerged)
	res.Fork = f.view()
	m.emit(p, EventMerged, map[string]any{
		"fork_id":   id,
		"fork_path": f.rec.ForkPath,
		"applied":   res.Applied,
		"conflicts": len(res.Conflicts),
	})
	return res, nil
}

// plan computes the operations that bring the fork's changes into source.
func plan(ancestor, forked, source engine.Content, cont *contested) ([]engine.Op, []Conflict) {
	if ancestor.Kind == engine.KindNotebook {
		return planCells(ancestor.Notebook, forked.Notebook, source.Notebook, cont)
	}

	base := []rune(ancestor.Text)
	ours := diff.Hunks(ancestor.Text, forked.Text)
	theirs := diff.Hunks(ancestor.Text, source.Text)

	var ops []engine.Op
	var conflicts []Conflict
	for _, h := range ours {
		op := hunkOp(base, h, 0)
		if cont.overlaps(h.Start, h.End) {
			conflicts = append(conflicts, Conflict{Start: h.Start, End: h.End, Reason: reasonSkipped, Op: &op})
			continue
		}
		if diff.AnyOverlap(theirs, h.Start, h.End) {
			if !contains(theirs, h) {
				conflicts = append(conflicts, Conflict{
					Start:  h.Start,
					End:    h.End,
					Reason: "source changed the same region",
					Op:     &op,
				})
			}
			continue
		}
		shift := 0
		for _, t := range theirs {
			if t.End <= h.Start {
				shift += len([]rune(t.Text)) - (t.End - t.Start)
			}
		}
		ops = append(ops, hunkOp(base, h, shift))
	}
	// Apply from the end so each operation leaves the positions of the
	// ones before it untouched.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops, conflicts
}

const reasonSkipped = "source change here was skipped during synchronization"

func contains(hs []diff.Hunk, h diff.Hunk) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

// hunkOp turns a hunk into an operation at its ancestor position plus shift.
func hunkOp(base []rune, h diff.Hunk, shift int) engine.Op {
	pos := h.Start + shift
	if h.Start == h.End {
		return engine.Op{Type: engine.OpInsert, Pos: pos, Text: h.Text}
	}
	expect := string(base[h.Start:h.End])
	if h.Text == "" {
		return engine.Op{Type: engine.OpDelete, Pos: pos, Len: h.End - h.Start, Expect: &expect}
	}
	return engine.Op{Type: engine.OpReplace, Pos: pos, Len: h.End - h.Start, Text: h.Text, Expect: &expect}
}

func conflictFor(ancestor engine.Content, op engine.Op, reason string) Conflict {
	c := Conflict{Reason: reason, Op: &op, CellID: op.CellID}
	if ancestor.Kind == engine.KindDocument {
		c.Start, c.End = op.Pos, op.Pos+op.Len
	}
	return c
}

func sameCell(a, b engine.Cell) bool {
	return a.Source == b.Source && a.Type == b.Type
}

// planCells merges notebooks by cell id. Fork edits and deletions apply
// when the source left the cell as the ancestor had it; cells new in the
// fork are inserted after the nearest preceding cell the source still has.
func planCells(ancestor, forked, source *engine.Notebook, cont *contested) ([]engine.Op, []Conflict) {
	if ancestor == nil || forked == nil || source == nil {
		return nil, []Conflict{{Reason: "notebook content missing"}}
	}
	sim := engine.NotebookContent(source.Clone())
	var ops []engine.Op
	var conflicts []Conflict

	add := func(op engine.Op) {
		next, err := engine.Apply(sim, op)
		if err != nil {
			conflicts = append(conflicts, Conflict{CellID: op.CellID, Reason: err.Error(), Op: &op})
			return
		}
		sim = next
		ops = append(ops, op)
	}

	for _, a := range ancestor.Cells {
		expect := a.Source
		fc, inFork := forked.Cell(a.ID)
		sc, inSource := sim.Notebook.Cell(a.ID)
		if cont.cell(a.ID) {
			if !inFork || !sameCell(fc, a) {
				op := engine.Op{Type: engine.OpUpdateCell, CellID: a.ID, Text: fc.Source, CellType: fc.Type}
				if !inFork {
					op = engine.Op{Type: engine.OpDeleteCell, CellID: a.ID}
				}
				conflicts = append(conflicts, Conflict{CellID: a.ID, Reason: reasonSkipped, Op: &op})
			}
			continue
		}
		switch {
		case !inFork && !inSource:
		case !inFork && sameCell(sc, a):
			add(engine.Op{Type: engine.OpDeleteCell, CellID: a.ID, Expect: &expect})
		case !inFork:
			op := engine.Op{Type: engine.OpDeleteCell, CellID: a.ID}
			conflicts = append(conflicts, Conflict{CellID: a.ID, Reason: "deleted in fork, edited in source", Op: &op})
		case sameCell(fc, a):
		case !inSource:
			op := engine.Op{Type: engine.OpUpdateCell, CellID: a.ID, Text: fc.Source, CellType: fc.Type}
			conflicts = append(conflicts, Conflict{CellID: a.ID, Reason: "edited in fork, deleted in source", Op: &op})
		case sameCell(sc, fc):
		case !sameCell(sc, a):
			op := engine.Op{Type: engine.OpUpdateCell, CellID: a.ID, Text: fc.Source, CellType: fc.Type}
			conflicts = append(conflicts, Conflict{CellID: a.ID, Reason: "edited in both fork and source", Op: &op})
		default:
			add(engine.Op{Type: engine.OpUpdateCell, CellID: a.ID, Text: fc.Source, CellType: fc.Type, Expect: &expect})
		}
	}

	for i, c := range forked.Cells {
		if _, ok := ancestor.Cell(c.ID); ok {
			continue
		}
		if _, ok := sim.Notebook.Cell(c.ID); ok {
			continue
		}
		if cont.cell(c.ID) {
			cell := c
			op := engine.Op{Type: engine.OpInsertCell, Cell: &cell}
			conflicts = append(conflicts, Conflict{CellID: c.ID, Reason: reasonSkipped, Op: &op})
			continue
		}
		idx := 0
		for j := i - 1; j >= 0; j-- {
			if k, err := sim.Notebook.Find(forked.Cells[j].ID, -1); err == nil {
				idx = k + 1
				break
			}
		}
		cell := c
		add(engine.Op{Type: engine.OpInsertCell, Index: idx, Cell: &cell})
	}
	return ops, conflicts
}
