// sync.go replays source operations onto synchronised forks.
//
// Each source operation is first applied to the ancestor (the source as the
// fork has seen it). It is replayed onto the fork only when it does not
// touch any region where the fork has diverged from the ancestor; its
// position is then shifted past the fork's own edits that precede it.
// Everything else is skipped, recorded and marked contested.

package fork

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpl-au/collab/internal/diff"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
)

// syncOrigin tags operations replayed by synchronisation.
const syncOrigin = "fork-sync"

func (m *Manager) synchronize(f *fork) {
	defer m.wg.Done()
	stream := events.DocStream(f.rec.SourcePath)
	sub := f.sub
	for {
		select {
		case <-f.done:
			return
		case e, ok := <-sub.C:
			if ok {
				m.replay(f, e)
				continue
			}
			// Still synchronising means the subscription was dropped:
			// resume from the last event handled.
			f.mu.Lock()
			floor, syncing := f.floor, f.rec.State == StateSynchronizing
			f.mu.Unlock()
			if !syncing {
				return
			}
			if floor == "" {
				m.stopSync(f, "synchronization stopped: subscription dropped before any event was handled")
				return
			}
			next, err := m.events.SubscribeFrom(stream, floor, 0)
			if err != nil {
				m.stopSync(f, fmt.Sprintf("synchronization stopped: %v", err))
				return
			}
			f.mu.Lock()
			f.sub = next
			f.mu.Unlock()
			select {
			case <-f.done:
				next.Close()
				return
			default:
			}
			sub = next
			for _, e := range next.Backlog {
				m.replay(f, e)
			}
		}
	}
}

// stopSync ends synchronisation and records why.
func (m *Manager) stopSync(f *fork, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec.State != StateSynchronizing {
		return
	}
	m.haltLocked(f, Skip{Reason: reason})
}

func (m *Manager) skipLocked(f *fork, s Skip) {
	s.Time = time.Now().UTC()
	f.rec.Skipped = append(f.rec.Skipped, s)
	if err := m.save(context.Background(), f); err != nil {
		slog.Warn("save fork", "fork", f.rec.ID, "error", err)
	}
	m.emit(f.rec.ForkPath, EventSkipped, s)
}

// replay handles one source event. Synchronisation stops only when the
// ancestor itself can no longer follow the source.
func (m *Manager) replay(f *fork, e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec.State != StateSynchronizing || (f.floor != "" && e.ID <= f.floor) {
		return
	}
	if e.Type != document.EventOp {
		f.floor = e.ID
		return
	}
	var oe document.OpEvent
	if err := e.Decode(&oe); err != nil {
		m.haltLocked(f, Skip{EventID: e.ID, Reason: fmt.Sprintf("synchronization stopped: undecodable operation: %v", err)})
		return
	}
	op := oe.Op
	next, err := engine.Apply(f.ancestor, op)
	if err != nil {
		m.haltLocked(f, Skip{EventID: e.ID, Op: &op, Reason: fmt.Sprintf("synchronization stopped: %v", err)})
		return
	}
	f.floor = e.ID

	if reason := m.replayLocked(f, op, oe.Author); reason != "" {
		f.contested.shift(op)
		f.contested.mark(op, f.ancestor)
		f.ancestor = next
		m.skipLocked(f, Skip{EventID: e.ID, Op: &op, Reason: reason})
		return
	}
	f.contested.shift(op)
	f.ancestor = next
	if err := m.save(context.Background(), f); err != nil {
		slog.Warn("save fork", "fork", f.rec.ID, "error", err)
	}
}

// replayLocked applies op, in ancestor coordinates, to the fork. It returns
// why it could not.
func (m *Manager) replayLocked(f *fork, op engine.Op, author string) string {
	ctx := context.Background()
	h, err := m.handleLocked(ctx, f)
	if err != nil {
		return err.Error()
	}
	cur, err := m.docs.Snapshot(ctx, h)
	if err != nil {
		return err.Error()
	}
	translated, reason := translate(f.ancestor, cur, op)
	if reason != "" {
		return reason
	}
	res, err := m.docs.ApplyBatch(ctx, h, []engine.Op{translated}, document.BatchOptions{Author: author, Origin: syncOrigin})
	if err != nil {
		return err.Error()
	}
	if res.Applied == 0 && len(res.Failed) > 0 {
		return res.Failed[0].Reason
	}
	return ""
}

// haltLocked records s and turns f into a plain fork. The ancestor stays
// where it was.
func (m *Manager) haltLocked(f *fork, s Skip) {
	f.rec.State = StateCreated
	m.skipLocked(f, s)
	if f.sub != nil {
		f.sub.Close()
	}
	slog.Info("fork synchronization stopped", "fork", f.rec.ID, "reason", s.Reason)
}

// translate maps op from ancestor coordinates onto fork. The reason is
// non-empty when op collides with the fork's own edits.
func translate(ancestor, fork engine.Content, op engine.Op) (engine.Op, string) {
	if op.Type == engine.OpReset {
		if ancestor.String() != fork.String() {
			return op, "reset conflicts with fork edits"
		}
		return op, ""
	}
	if ancestor.Kind == engine.KindNotebook {
		return translateCell(ancestor, fork, op)
	}

	start, end := op.Pos, op.Pos
	if op.Type != engine.OpInsert {
		end = op.Pos + op.Len
	}
	hunks := diff.Hunks(ancestor.Text, fork.Text)
	if diff.AnyOverlap(hunks, start, end) {
		return op, fmt.Sprintf("overlaps fork edits in [%d,%d)", start, end)
	}
	shift := 0
	for _, h := range hunks {
		if h.End <= start {
			shift += len([]rune(h.Text)) - (h.End - h.Start)
		}
	}
	out := op
	out.Pos += shift
	return out, ""
}

// translateCell places a cell operation on the fork. Cells are addressed
// by id, so only the target cell (or an insert's anchor) has to agree.
func translateCell(ancestor, fork engine.Content, op engine.Op) (engine.Op, string) {
	an, fk := ancestor.Notebook, fork.Notebook
	if an == nil || fk == nil {
		return op, "notebook content missing"
	}
	out := op

	if op.Type == engine.OpInsertCell {
		if op.Index == 0 {
			return out, ""
		}
		if op.Index > len(an.Cells) {
			return op, "insert index outside source notebook"
		}
		anchor := an.Cells[op.Index-1].ID
		i, err := fk.Find(anchor, -1)
		if err != nil {
			return op, fmt.Sprintf("anchor cell %q no longer in fork", anchor)
		}
		out.Index = i + 1
		return out, ""
	}

	ai, err := an.Find(op.CellID, op.Index)
	if err != nil {
		return op, err.Error()
	}
	want := an.Cells[ai]
	fi, err := fk.Find(want.ID, -1)
	if err != nil {
		return op, fmt.Sprintf("cell %q deleted in fork", want.ID)
	}
	got := fk.Cells[fi]
	if got.Source != want.Source || got.Type != want.Type {
		return op, fmt.Sprintf("cell %q edited in fork", want.ID)
	}
	out.CellID = want.ID
	out.Index = fi
	return out, ""
}
