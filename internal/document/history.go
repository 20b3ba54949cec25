// history.go reads resource content and version history, and restores or
// compares stored versions.

package document

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jpl-au/collab/internal/diff"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/store"
)

// CellView is a notebook cell as returned to readers.
type CellView struct {
	Index          int    `json:"index"`
	ID             string `json:"id"`
	Type           string `json:"cell_type"`
	Source         string `json:"source"`
	Truncated      bool   `json:"truncated,omitempty"`
	Outputs        int    `json:"output_count"`
	ExecutionCount *int   `json:"execution_count,omitempty"`
}

// ReadResult is the content of a resource, cut to a length budget.
type ReadResult struct {
	Path       string      `json:"path"`
	Kind       engine.Kind `json:"kind"`
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	Truncated  bool        `json:"truncated"`
	FullLength int         `json:"full_length"`
	Cells      []CellView  `json:"cells,omitempty"`
}

// Read returns h's content truncated to maxLen code points (no limit when
// maxLen <= 0). Notebook content is the nbformat JSON; the cell list shares
// the same budget across sources.
func (a *Adapter) Read(ctx context.Context, h *engine.Handle, maxLen int) (*ReadResult, error) {
	c, err := a.engine.Snapshot(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.Path(), err)
	}
	text := c.String()
	r := &ReadResult{
		Path:       h.Path(),
		Kind:       c.Kind,
		Type:       engine.FileType(h.Path()),
		FullLength: utf8.RuneCountInString(text),
	}
	r.Content, r.Truncated = truncate(text, maxLen)

	if c.Kind == engine.KindNotebook && c.Notebook != nil {
		budget := maxLen
		r.Cells = make([]CellView, 0, len(c.Notebook.Cells))
		for i, cell := range c.Notebook.Cells {
			v := CellView{
				Index:          i,
				ID:             cell.ID,
				Type:           cell.Type,
				Outputs:        len(cell.Outputs),
				ExecutionCount: cell.ExecutionCount,
			}
			if maxLen <= 0 {
				v.Source = cell.Source
			} else {
				v.Source, v.Truncated = truncate(cell.Source, budget)
				budget -= utf8.RuneCountInString(v.Source)
			}
			r.Cells = append(r.Cells, v)
		}
	}
	return r, nil
}

func truncate(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}

// History returns up to limit versions of path, newest first.
func (a *Adapter) History(ctx context.Context, path string, limit int) ([]store.VersionJSON, error) {
	vs, err := a.log.Versions(ctx, path, limit)
	if err != nil {
		return nil, err
	}
	out := make([]store.VersionJSON, len(vs))
	for i := range vs {
		out[i] = vs[i].ToJSON()
	}
	return out, nil
}

// Version resolves ref against path's history. ref is a version id, a
// sequence number ("3" or "v3"), or empty for the latest version.
func (a *Adapter) Version(ctx context.Context, path, ref string) (*store.Version, error) {
	var v *store.Version
	var err error
	switch seq, ok := parseSeq(ref); {
	case ref == "":
		v, err = a.log.LatestVersion(ctx, path)
	case ok:
		v, err = a.log.VersionBySeq(ctx, path, seq)
		if errors.Is(err, store.ErrNotFound) {
			// Version ids are base32 and may be all digits.
			v, err = a.log.VersionByKey(ctx, path, ref)
		}
	default:
		v, err = a.log.VersionByKey(ctx, path, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		if ref == "" {
			return nil, fmt.Errorf("%w: %s has no history", ErrVersionNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s@%s", ErrVersionNotFound, path, ref)
	}
	return v, err
}

func parseSeq(ref string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "v"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Restore commits the content of a stored version as a new version. The
// history keeps everything in between.
func (a *Adapter) Restore(ctx context.Context, h *engine.Handle, ref, author string) (*BatchResult, error) {
	v, err := a.Version(ctx, h.Path(), ref)
	if err != nil {
		return nil, err
	}
	c, err := engine.Decode(h.Kind(), []byte(v.Content))
	if err != nil {
		return nil, fmt.Errorf("decode %s v%d: %w", h.Path(), v.Seq, err)
	}
	op := engine.Op{Type: engine.OpReset, Text: c.Text, Notebook: c.Notebook}
	return a.ApplyBatch(ctx, h, []engine.Op{op}, BatchOptions{
		Author:  author,
		Summary: fmt.Sprintf("restore to v%d", v.Seq),
	})
}

// Diff compares two stored versions of path. An empty to compares against
// the latest version.
func (a *Adapter) Diff(ctx context.Context, path, from, to string) (diff.Result, error) {
	older, err := a.Version(ctx, path, from)
	if err != nil {
		return diff.Result{}, err
	}
	newer, err := a.Version(ctx, path, to)
	if err != nil {
		return diff.Result{}, err
	}
	return diff.Compute(older.Content, newer.Content,
		fmt.Sprintf("%s v%d (%s)", path, older.Seq, older.Key),
		fmt.Sprintf("%s v%d (%s)", path, newer.Seq, newer.Key)), nil
}
