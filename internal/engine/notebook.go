// notebook.go models the subset of nbformat 4 the collaboration layer edits.
//
// Cells keep their metadata and outputs opaque; only id, type and source are
// interpreted. Cells without an id (nbformat < 4.5) get one on load so every
// cell can be addressed by id.

package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Cell types.
const (
	CellCode     = "code"
	CellMarkdown = "markdown"
	CellRaw      = "raw"
)

// Output is one nbformat output object, kept as decoded JSON.
type Output map[string]any

// Cell is a single notebook cell.
type Cell struct {
	ID             string
	Type           string
	Source         string
	Metadata       map[string]any
	Outputs        []Output
	ExecutionCount *int
}

// Notebook is an nbformat 4 document.
type Notebook struct {
	Cells         []Cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// NewNotebook returns an empty nbformat 4.5 notebook.
func NewNotebook() *Notebook {
	return &Notebook{
		Cells:         []Cell{},
		Metadata:      map[string]any{},
		NBFormat:      4,
		NBFormatMinor: 5,
	}
}

// NewCellID returns a fresh cell id.
func NewCellID() string {
	return uuid.NewString()
}

// ValidCellType reports whether t is a known nbformat cell type.
func ValidCellType(t string) bool {
	return t == CellCode || t == CellMarkdown || t == CellRaw
}

// ParseNotebook decodes nbformat JSON. Empty input yields an empty notebook.
func ParseNotebook(data []byte) (*Notebook, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return NewNotebook(), nil
	}
	var nb Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}
	if nb.NBFormat == 0 {
		nb.NBFormat = 4
	}
	if nb.Metadata == nil {
		nb.Metadata = map[string]any{}
	}
	if nb.Cells == nil {
		nb.Cells = []Cell{}
	}
	for i := range nb.Cells {
		if nb.Cells[i].ID == "" {
			nb.Cells[i].ID = NewCellID()
		}
	}
	return &nb, nil
}

// Encode renders the notebook as nbformat JSON with one-space indentation,
// matching what Jupyter writes.
func (nb *Notebook) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(nb, "", " ")
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a copy whose cell slice can be modified independently.
func (nb *Notebook) Clone() *Notebook {
	if nb == nil {
		return nil
	}
	c := *nb
	c.Cells = make([]Cell, len(nb.Cells))
	copy(c.Cells, nb.Cells)
	return &c
}

// Find resolves a cell by id, or by index when id is empty.
func (nb *Notebook) Find(id string, index int) (int, error) {
	if id != "" {
		for i, c := range nb.Cells {
			if c.ID == id {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%w: no cell with id %q", ErrBadOp, id)
	}
	if index < 0 || index >= len(nb.Cells) {
		return -1, fmt.Errorf("%w: cell index %d out of range [0,%d)", ErrBadOp, index, len(nb.Cells))
	}
	return index, nil
}

// Cell returns the cell with the given id.
func (nb *Notebook) Cell(id string) (Cell, bool) {
	for _, c := range nb.Cells {
		if c.ID == id {
			return c, true
		}
	}
	return Cell{}, false
}

type cellJSON struct {
	ID             string          `json:"id,omitempty"`
	CellType       string          `json:"cell_type"`
	Source         json.RawMessage `json:"source"`
	Metadata       map[string]any  `json:"metadata"`
	Outputs        []Output        `json:"outputs,omitempty"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
}

// UnmarshalJSON accepts source as either a string or a list of lines.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw cellJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.Type = raw.CellType
	c.Metadata = raw.Metadata
	c.Outputs = raw.Outputs
	c.ExecutionCount = raw.ExecutionCount
	if len(raw.Source) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Source, &s); err == nil {
		c.Source = s
		return nil
	}
	var lines []string
	if err := json.Unmarshal(raw.Source, &lines); err != nil {
		return fmt.Errorf("cell source: %w", err)
	}
	c.Source = strings.Join(lines, "")
	return nil
}

// MarshalJSON writes the fields nbformat requires for the cell type: code
// cells always carry outputs and execution_count, others never do.
func (c Cell) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"cell_type": c.Type,
		"source":    c.Source,
		"metadata":  c.Metadata,
	}
	if c.Metadata == nil {
		m["metadata"] = map[string]any{}
	}
	if c.ID != "" {
		m["id"] = c.ID
	}
	if c.Type == CellCode {
		outputs := c.Outputs
		if outputs == nil {
			outputs = []Output{}
		}
		m["outputs"] = outputs
		m["execution_count"] = c.ExecutionCount
	}
	return json.Marshal(m)
}
