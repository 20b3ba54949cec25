// op.go defines resource content and the primitive operations applied to it.
//
// Apply is pure: it never mutates its input, which lets the fork manager run
// the same operations against private copies of a document. Text positions
// and lengths count Unicode code points, not bytes.

package engine

import (
	"fmt"
	"unicode/utf8"
)

// OpType names a primitive operation.
type OpType string

const (
	OpInsert     OpType = "insert"
	OpDelete     OpType = "delete"
	OpReplace    OpType = "replace"
	OpReset      OpType = "reset"
	OpInsertCell OpType = "insert_cell"
	OpUpdateCell OpType = "update_cell"
	OpDeleteCell OpType = "delete_cell"
	OpSetOutputs OpType = "set_outputs"
)

// AppendPos, as the Pos of an insert or the Index of an insert_cell, means
// the end of the content. The document adapter resolves it before the
// operation is applied, so engines never see it.
const AppendPos = -1

// Op is one normalised primitive operation. Which fields are meaningful
// depends on Type. Cell operations address a cell by CellID, or by Index
// when CellID is empty.
type Op struct {
	Type           OpType    `json:"type"`
	Pos            int       `json:"pos,omitempty"`
	Len            int       `json:"len,omitempty"`
	Text           string    `json:"text,omitempty"`
	Index          int       `json:"index,omitempty"`
	CellID         string    `json:"cell_id,omitempty"`
	CellType       string    `json:"cell_type,omitempty"`
	Cell           *Cell     `json:"cell,omitempty"`
	Notebook       *Notebook `json:"notebook,omitempty"`
	Outputs        []Output  `json:"outputs,omitempty"`
	ExecutionCount *int      `json:"execution_count,omitempty"`

	// Expect is the text (or cell source) the operation expects to find at
	// its target. Nil means no expectation.
	Expect *string `json:"expect,omitempty"`
}

// IsCell reports whether op targets notebook cells.
func (o Op) IsCell() bool {
	switch o.Type {
	case OpInsertCell, OpUpdateCell, OpDeleteCell, OpSetOutputs:
		return true
	}
	return false
}

// Summary describes the operation for version history.
func (o Op) Summary() string {
	target := o.CellID
	if target == "" {
		target = fmt.Sprintf("#%d", o.Index)
	}
	switch o.Type {
	case OpInsert:
		return fmt.Sprintf("insert %d chars at %d", utf8.RuneCountInString(o.Text), o.Pos)
	case OpDelete:
		return fmt.Sprintf("delete %d chars at %d", o.Len, o.Pos)
	case OpReplace:
		return fmt.Sprintf("replace %d chars at %d with %d chars", o.Len, o.Pos, utf8.RuneCountInString(o.Text))
	case OpReset:
		return "reset content"
	case OpInsertCell:
		return fmt.Sprintf("insert cell at %d", o.Index)
	case OpUpdateCell:
		return "update cell " + target
	case OpDeleteCell:
		return "delete cell " + target
	case OpSetOutputs:
		return "set outputs of cell " + target
	}
	return string(o.Type)
}

// Content is a snapshot of a resource: text for documents, a notebook for
// notebooks.
type Content struct {
	Kind     Kind
	Text     string
	Notebook *Notebook
}

// TextContent wraps a document body.
func TextContent(s string) Content {
	return Content{Kind: KindDocument, Text: s}
}

// NotebookContent wraps a notebook.
func NotebookContent(nb *Notebook) Content {
	return Content{Kind: KindNotebook, Notebook: nb}
}

// Len is the number of code points for documents and cells for notebooks.
func (c Content) Len() int {
	if c.Kind == KindNotebook {
		if c.Notebook == nil {
			return 0
		}
		return len(c.Notebook.Cells)
	}
	return utf8.RuneCountInString(c.Text)
}

// Clone returns a copy safe to modify.
func (c Content) Clone() Content {
	c.Notebook = c.Notebook.Clone()
	return c
}

// Encode renders the content as file bytes.
func (c Content) Encode() ([]byte, error) {
	if c.Kind == KindNotebook {
		nb := c.Notebook
		if nb == nil {
			nb = NewNotebook()
		}
		return nb.Encode()
	}
	return []byte(c.Text), nil
}

// String renders the content as text; notebooks render as nbformat JSON.
func (c Content) String() string {
	if c.Kind != KindNotebook {
		return c.Text
	}
	data, err := c.Encode()
	if err != nil {
		return ""
	}
	return string(data)
}

// Decode parses file bytes as the given kind.
func Decode(kind Kind, data []byte) (Content, error) {
	if kind == KindNotebook {
		nb, err := ParseNotebook(data)
		if err != nil {
			return Content{}, err
		}
		return NotebookContent(nb), nil
	}
	return TextContent(string(data)), nil
}

// Apply returns the content that results from applying op to c.
func Apply(c Content, op Op) (Content, error) {
	if op.Type == OpReset {
		return reset(c, op)
	}
	if op.IsCell() != (c.Kind == KindNotebook) {
		return c, fmt.Errorf("%w: %s on %s", ErrKindMismatch, op.Type, c.Kind)
	}
	if c.Kind == KindNotebook {
		return applyCell(c, op)
	}
	return applyText(c, op)
}

func reset(c Content, op Op) (Content, error) {
	if c.Kind == KindNotebook {
		if op.Notebook == nil {
			return c, fmt.Errorf("%w: reset without notebook", ErrBadOp)
		}
		return NotebookContent(op.Notebook.Clone()), nil
	}
	return TextContent(op.Text), nil
}

func applyText(c Content, op Op) (Content, error) {
	r := []rune(c.Text)
	n := len(r)
	switch op.Type {
	case OpInsert:
		if op.Pos < 0 || op.Pos > n {
			return c, fmt.Errorf("%w: position %d outside [0,%d]", ErrBadOp, op.Pos, n)
		}
		return TextContent(string(r[:op.Pos]) + op.Text + string(r[op.Pos:])), nil
	case OpDelete, OpReplace:
		if op.Pos < 0 || op.Len < 0 || op.Pos+op.Len > n {
			return c, fmt.Errorf("%w: range [%d,%d) outside [0,%d]", ErrBadOp, op.Pos, op.Pos+op.Len, n)
		}
		text := ""
		if op.Type == OpReplace {
			text = op.Text
		}
		return TextContent(string(r[:op.Pos]) + text + string(r[op.Pos+op.Len:])), nil
	}
	return c, fmt.Errorf("%w: unknown text operation %q", ErrBadOp, op.Type)
}

func applyCell(c Content, op Op) (Content, error) {
	nb := c.Notebook
	if nb == nil {
		nb = NewNotebook()
	}
	nb = nb.Clone()

	switch op.Type {
	case OpInsertCell:
		if op.Cell == nil {
			return c, fmt.Errorf("%w: insert_cell without cell", ErrBadOp)
		}
		if op.Index < 0 || op.Index > len(nb.Cells) {
			return c, fmt.Errorf("%w: cell index %d outside [0,%d]", ErrBadOp, op.Index, len(nb.Cells))
		}
		cell := *op.Cell
		if cell.ID == "" {
			cell.ID = NewCellID()
		}
		if _, dup := nb.Cell(cell.ID); dup {
			return c, fmt.Errorf("%w: duplicate cell id %q", ErrBadOp, cell.ID)
		}
		if cell.Type == "" {
			cell.Type = CellCode
		}
		nb.Cells = append(nb.Cells, Cell{})
		copy(nb.Cells[op.Index+1:], nb.Cells[op.Index:])
		nb.Cells[op.Index] = cell

	case OpUpdateCell:
		i, err := nb.Find(op.CellID, op.Index)
		if err != nil {
			return c, err
		}
		cell := nb.Cells[i]
		cell.Source = op.Text
		if op.CellType != "" && op.CellType != cell.Type {
			cell.Type = op.CellType
			if cell.Type != CellCode {
				cell.Outputs = nil
				cell.ExecutionCount = nil
			}
		}
		nb.Cells[i] = cell

	case OpDeleteCell:
		i, err := nb.Find(op.CellID, op.Index)
		if err != nil {
			return c, err
		}
		nb.Cells = append(nb.Cells[:i], nb.Cells[i+1:]...)

	case OpSetOutputs:
		i, err := nb.Find(op.CellID, op.Index)
		if err != nil {
			return c, err
		}
		if nb.Cells[i].Type != CellCode {
			return c, fmt.Errorf("%w: cell %q is not a code cell", ErrBadOp, nb.Cells[i].ID)
		}
		nb.Cells[i].Outputs = op.Outputs
		nb.Cells[i].ExecutionCount = op.ExecutionCount

	default:
		return c, fmt.Errorf("%w: unknown cell operation %q", ErrBadOp, op.Type)
	}
	return NotebookContent(nb), nil
}
