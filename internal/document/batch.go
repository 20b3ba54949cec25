// batch.go implements ApplyBatch, the validate -> commit -> record -> emit
// loop behind every mutating request.
//
// Design: once a batch has started it runs on a context detached from the
// caller's cancellation. A client that disconnects half way through must not
// leave an operation committed to the engine but missing from the history
// and the event stream.

package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/store"
)

// Failure codes reported per operation.
const (
	CodeInvalidRange      = "invalid_range"
	CodeAborted           = "aborted"
	CodeEngineUnavailable = "engine_unavailable"
)

// Batch statuses.
const (
	StatusApplied  = "applied"
	StatusPartial  = "partial"
	StatusRejected = "rejected"
)

// BatchOptions controls ApplyBatch.
type BatchOptions struct {
	Author string
	// ContinueOnError validates and applies the remaining operations after
	// one fails instead of aborting the batch.
	ContinueOnError bool
	// Origin tags emitted events, e.g. "fork:<id>" for synchronised
	// operations, so consumers can tell them from direct edits.
	Origin string
	// Summary replaces the per-operation version summary when set.
	Summary string
}

// Failure describes one operation that was not applied.
type Failure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// BatchResult reports what ApplyBatch did. Applied is exact: it counts every
// operation committed to the engine. Unrecorded lists the indexes of applied
// operations whose version record was lost.
type BatchResult struct {
	Applied    int                `json:"applied"`
	Unrecorded []int              `json:"unrecorded,omitempty"`
	Failed     []Failure          `json:"failed"`
	NewLength  int                `json:"new_length"`
	Version    *store.VersionJSON `json:"version,omitempty"`
	EventIDs   []string           `json:"event_ids"`
	Status     string             `json:"status"`
}

// Err returns ErrPartialBatch when any operation failed.
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d operations failed", ErrPartialBatch, len(r.Failed), r.Applied+len(r.Failed))
}

// OpEvent is the payload of a document.op event.
type OpEvent struct {
	Path      string    `json:"path"`
	Op        engine.Op `json:"op"`
	Seq       int       `json:"seq"`
	VersionID string    `json:"version_id"`
	Author    string    `json:"author"`
	Origin    string    `json:"origin,omitempty"`
	Length    int       `json:"length"`
}

func streamOf(path string) string {
	return events.DocStream(path)
}

// ApplyBatch applies ops to h's resource in order. Each operation is
// validated against the content left by the previous one. By default the
// first invalid operation aborts the batch and every remaining operation is
// reported as failed; with ContinueOnError the rest are still attempted.
//
// A partial result is a result, not an error: the returned error is non-nil
// only when the engine or the history became unavailable, in which case the
// result still reports what was committed before the failure.
func (a *Adapter) ApplyBatch(ctx context.Context, h *engine.Handle, ops []engine.Op, opts BatchOptions) (*BatchResult, error) {
	path := h.Path()
	unlock := a.locks.Lock(path)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	author := authorOr(opts.Author)
	res := &BatchResult{Failed: []Failure{}, EventIDs: []string{}}

	cur, err := a.engine.Snapshot(ctx, h)
	if err != nil {
		for i := range ops {
			res.Failed = append(res.Failed, Failure{Index: i, Reason: err.Error(), Code: CodeEngineUnavailable})
		}
		res.finish()
		return res, fmt.Errorf("snapshot %s: %w", path, err)
	}
	res.NewLength = cur.Len()

	abort := func(from, failed int) {
		for j := from; j < len(ops); j++ {
			res.Failed = append(res.Failed, Failure{
				Index:  j,
				Reason: fmt.Sprintf("aborted: operation %d failed", failed),
				Code:   CodeAborted,
			})
		}
	}

	for i, op := range ops {
		// Fix generated cell ids here so the emitted operation replays
		// to the same cell elsewhere.
		if op.Type == engine.OpInsertCell && op.Cell != nil && op.Cell.ID == "" {
			cell := *op.Cell
			cell.ID = engine.NewCellID()
			op.Cell = &cell
		}
		op = resolveAppend(cur, op)
		if err := check(cur, op); err != nil {
			res.Failed = append(res.Failed, Failure{Index: i, Reason: err.Error(), Code: CodeInvalidRange})
			if !opts.ContinueOnError {
				abort(i+1, i)
				break
			}
			continue
		}

		if _, err := a.engine.Apply(ctx, h, op); err != nil {
			if errors.Is(err, engine.ErrBadOp) || errors.Is(err, engine.ErrKindMismatch) {
				res.Failed = append(res.Failed, Failure{Index: i, Reason: err.Error(), Code: CodeInvalidRange})
				if !opts.ContinueOnError {
					abort(i+1, i)
					break
				}
				continue
			}
			res.Failed = append(res.Failed, Failure{Index: i, Reason: err.Error(), Code: CodeEngineUnavailable})
			abort(i+1, i)
			res.finish()
			return res, fmt.Errorf("apply to %s: %w", path, err)
		}

		// Re-read rather than trusting the local result: the engine may
		// have merged concurrent remote edits.
		next, err := a.engine.Snapshot(ctx, h)
		if err != nil {
			// op already validated against cur, so the local result is safe.
			next, _ = engine.Apply(cur, op)
		}
		cur = next

		summary := op.Summary()
		if opts.Summary != "" {
			summary = opts.Summary
		}
		v, err := a.log.AppendVersion(ctx, store.NewVersion{
			Path:    path,
			Kind:    string(h.Kind()),
			Summary: summary,
			Author:  author,
			Content: cur.String(),
		})
		res.Applied++
		res.NewLength = cur.Len()
		ev := OpEvent{
			Path:   path,
			Op:     op,
			Author: author,
			Origin: opts.Origin,
			Length: cur.Len(),
		}
		if err != nil {
			// The engine already holds the edit, so it still counts and
			// subscribers still see it, without a version to point at.
			res.Unrecorded = append(res.Unrecorded, i)
			if id, eerr := a.emit.Emit(streamOf(path), EventOp, ev); eerr == nil {
				res.EventIDs = append(res.EventIDs, id)
			} else {
				slog.Warn("emit document.op", "path", path, "error", eerr)
			}
			for j := i + 1; j < len(ops); j++ {
				res.Failed = append(res.Failed, Failure{
					Index:  j,
					Reason: fmt.Sprintf("aborted: operation %d was applied but not recorded", i),
					Code:   CodeAborted,
				})
			}
			res.finish()
			return res, fmt.Errorf("%w: record %s: %v", ErrUnrecorded, path, err)
		}
		vj := v.ToJSON()
		res.Version = &vj
		ev.Seq = v.Seq
		ev.VersionID = v.Key

		id, err := a.emit.Emit(streamOf(path), EventOp, ev)
		if err != nil {
			slog.Warn("emit document.op", "path", path, "seq", v.Seq, "error", err)
			continue
		}
		res.EventIDs = append(res.EventIDs, id)
	}

	res.finish()
	return res, nil
}

func (r *BatchResult) finish() {
	switch {
	case len(r.Failed) == 0:
		r.Status = StatusApplied
	case r.Applied == 0:
		r.Status = StatusRejected
	default:
		r.Status = StatusPartial
	}
}

// resolveAppend turns an AppendPos insert into an absolute one against c,
// so emitted and recorded operations never depend on when they replay.
func resolveAppend(c engine.Content, op engine.Op) engine.Op {
	switch {
	case op.Type == engine.OpInsert && op.Pos == engine.AppendPos:
		op.Pos = c.Len()
	case op.Type == engine.OpInsertCell && op.Index == engine.AppendPos:
		op.Index = c.Len()
	}
	return op
}

// check validates op against c without applying it to the engine.
func check(c engine.Content, op engine.Op) error {
	if op.Expect != nil {
		got, err := target(c, op)
		if err != nil {
			return err
		}
		if got != *op.Expect {
			return fmt.Errorf("%w: expected %q at target, found %q", ErrInvalidRange, clip(*op.Expect), clip(got))
		}
	}
	if _, err := engine.Apply(c, op); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRange, rangeError(c, op, err))
	}
	return nil
}

// target returns the text an operation would overwrite: the addressed range
// for text operations and the cell source for cell operations.
func target(c engine.Content, op engine.Op) (string, error) {
	if c.Kind == engine.KindNotebook {
		if c.Notebook == nil || op.Type == engine.OpInsertCell || op.Type == engine.OpReset {
			return "", nil
		}
		i, err := c.Notebook.Find(op.CellID, op.Index)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		return c.Notebook.Cells[i].Source, nil
	}
	if op.Type == engine.OpReset {
		return c.Text, nil
	}
	r := []rune(c.Text)
	end := op.Pos + op.Len
	if op.Pos < 0 || op.Len < 0 || end > len(r) {
		return "", fmt.Errorf("%w: range [%d,%d) is beyond document length %d", ErrInvalidRange, op.Pos, end, len(r))
	}
	return string(r[op.Pos:end]), nil
}

// rangeError rewords bounds failures in terms of the document the caller
// sees.
func rangeError(c engine.Content, op engine.Op, err error) error {
	if c.Kind != engine.KindDocument || op.IsCell() {
		return err
	}
	n := c.Len()
	switch op.Type {
	case engine.OpInsert:
		if op.Pos < 0 || op.Pos > n {
			return fmt.Errorf("position %d is beyond document length %d", op.Pos, n)
		}
	case engine.OpDelete, engine.OpReplace:
		if op.Pos < 0 || op.Len < 0 || op.Pos+op.Len > n {
			return fmt.Errorf("range [%d,%d) is beyond document length %d", op.Pos, op.Pos+op.Len, n)
		}
	}
	return err
}

func clip(s string) string {
	const max = 40
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
