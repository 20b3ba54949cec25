// contested.go tracks the parts of a synchronised fork's ancestor whose
// source change was skipped.
//
// The ancestor takes every source operation, replayed or not, so the ones
// that follow keep lining up with it. A skipped operation leaves the
// ancestor holding a change the fork lacks; merge would read that
// difference as the fork undoing the change. Merge reports fork changes
// that touch a contested span or cell as conflicts instead.

package fork

import (
	"slices"
	"unicode/utf8"

	"github.com/jpl-au/collab/internal/engine"
)

type span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type contested struct {
	Spans []span   `json:"spans,omitempty"`
	Cells []string `json:"cells,omitempty"`
}

// shift moves the spans across op, which is about to be applied to the
// ancestor.
func (c *contested) shift(op engine.Op) {
	switch op.Type {
	case engine.OpReset:
		c.Spans = nil
		c.Cells = nil
		return
	case engine.OpInsert, engine.OpDelete, engine.OpReplace:
	default:
		return
	}
	start, end := op.Pos, op.Pos
	if op.Type != engine.OpInsert {
		end += op.Len
	}
	delta := utf8.RuneCountInString(op.Text) - (end - start)
	for i, s := range c.Spans {
		switch {
		case s.End < start || (s.End == start && s.Start < s.End):
		case s.Start >= end:
			s.Start += delta
			s.End += delta
		default:
			s.Start = min(s.Start, start)
			s.End = max(s.End, end) + delta
		}
		c.Spans[i] = s
	}
}

// mark records op, applied to before, as skipped. Text spans are in the
// coordinates of the ancestor after op.
func (c *contested) mark(op engine.Op, before engine.Content) {
	switch {
	case op.Type == engine.OpReset && before.Kind == engine.KindNotebook:
		if op.Notebook != nil {
			for _, cell := range op.Notebook.Cells {
				c.addCell(cell.ID)
			}
		}
	case op.Type == engine.OpReset:
		c.Spans = append(c.Spans, span{0, utf8.RuneCountInString(op.Text)})
	case op.Type == engine.OpInsertCell:
		if op.Cell != nil {
			c.addCell(op.Cell.ID)
		}
	case op.IsCell():
		id := op.CellID
		if id == "" && before.Notebook != nil && op.Index >= 0 && op.Index < len(before.Notebook.Cells) {
			id = before.Notebook.Cells[op.Index].ID
		}
		c.addCell(id)
	default:
		c.Spans = append(c.Spans, span{op.Pos, op.Pos + utf8.RuneCountInString(op.Text)})
	}
}

func (c *contested) addCell(id string) {
	if id != "" && !slices.Contains(c.Cells, id) {
		c.Cells = append(c.Cells, id)
	}
}

// overlaps reports whether [start, end) touches a contested span.
// Empty ranges and spans count as touching their position.
func (c *contested) overlaps(start, end int) bool {
	for _, s := range c.Spans {
		if s.Start == s.End || start == end {
			if s.Start <= end && start <= s.End {
				return true
			}
			continue
		}
		if s.Start < end && start < s.End {
			return true
		}
	}
	return false
}

func (c *contested) cell(id string) bool {
	return slices.Contains(c.Cells, id)
}
