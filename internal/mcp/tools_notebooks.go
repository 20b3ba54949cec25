// tools_notebooks.go implements the notebook cell tools.
//
// Listing, reading, sessions and history share their handlers with the
// document tools (tools_documents.go); only cell edits and execution are
// notebook-specific.

package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/exec"
	"github.com/jpl-au/collab/internal/validate"
	"github.com/mark3labs/mcp-go/mcp"
)

// maxExecTimeout bounds the per-cell timeout a caller may ask for.
const maxExecTimeout = 10 * time.Minute

func cellType(it map[string]any, i int, name, def string) (string, error) {
	t := fieldString(it, "cell_type", def)
	if t != "" && !engine.ValidCellType(t) {
		return "", fmt.Errorf("%w: %s[%d].cell_type %q (want code, markdown or raw)", ErrInvalidArgument, name, i, t)
	}
	return t, nil
}

func (h *handlers) batchUpdateNotebookCells(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	items, err := getObjects(req, "updates")
	if err != nil {
		return reply{}, err
	}
	ops := make([]engine.Op, 0, len(items))
	for i, it := range items {
		src, ok := it["source"].(string)
		if !ok {
			return reply{}, fmt.Errorf("%w: updates[%d].source is required", ErrInvalidArgument, i)
		}
		if err := h.checkContent(src, "updates", i); err != nil {
			return reply{}, err
		}
		typ, err := cellType(it, i, "updates", "")
		if err != nil {
			return reply{}, err
		}
		op := engine.Op{Type: engine.OpUpdateCell, CellID: fieldString(it, "cell_id", ""), Text: src, CellType: typ}
		if op.CellID == "" {
			idx := fieldPtr(it, "index")
			if idx == nil {
				return reply{}, fmt.Errorf("%w: updates[%d] needs cell_id or index", ErrInvalidArgument, i)
			}
			op.Index = *idx
		}
		ops = append(ops, op)
	}
	return h.applyBatch(ctx, p, engine.KindNotebook, ops, getBool(req, "continue_on_error", false))
}

// batchInsertNotebookCells inserts cells in order. A cell with its own
// position goes there; the others go after start_position, one after the
// other, or at the end when start_position is absent.
func (h *handlers) batchInsertNotebookCells(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	items, err := getObjects(req, "cells")
	if err != nil {
		return reply{}, err
	}
	next := getIntPtr(req, "start_position")
	if next != nil && *next < 0 {
		return reply{}, fmt.Errorf("%w: start_position %d is negative", document.ErrInvalidRange, *next)
	}
	ops := make([]engine.Op, 0, len(items))
	for i, it := range items {
		src := fieldString(it, "source", "")
		if err := h.checkContent(src, "cells", i); err != nil {
			return reply{}, err
		}
		typ, err := cellType(it, i, "cells", engine.CellCode)
		if err != nil {
			return reply{}, err
		}
		index, err := position(it, "cells", i)
		if err != nil {
			return reply{}, err
		}
		if index == engine.AppendPos && next != nil {
			index = *next
			*next++
		}
		ops = append(ops, engine.Op{
			Type:  engine.OpInsertCell,
			Index: index,
			Cell:  &engine.Cell{Type: typ, Source: src},
		})
	}
	return h.applyBatch(ctx, p, engine.KindNotebook, ops, getBool(req, "continue_on_error", false))
}

// batchDeleteNotebookCells deletes by id, or an inclusive index range from
// the highest index down so every operation addresses the cell the caller
// meant.
func (h *handlers) batchDeleteNotebookCells(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	var ops []engine.Op
	if ids := getStrings(req, "cell_ids"); len(ids) > 0 {
		for _, id := range ids {
			ops = append(ops, engine.Op{Type: engine.OpDeleteCell, CellID: id})
		}
	} else {
		start, end, err := indexRange(req)
		if err != nil {
			return reply{}, err
		}
		for i := end; i >= start; i-- {
			ops = append(ops, engine.Op{Type: engine.OpDeleteCell, Index: i})
		}
	}
	return h.applyBatch(ctx, p, engine.KindNotebook, ops, false)
}

func indexRange(req mcp.CallToolRequest) (int, int, error) {
	start, end := getIntPtr(req, "start_index"), getIntPtr(req, "end_index")
	if start == nil || end == nil {
		return 0, 0, fmt.Errorf("%w: cell_ids or start_index and end_index are required", ErrInvalidArgument)
	}
	if *start < 0 || *end < *start {
		return 0, 0, fmt.Errorf("%w: range [%d,%d]", ErrInvalidArgument, *start, *end)
	}
	return *start, *end, nil
}

type execReply struct {
	Path  string            `json:"path"`
	Cells []exec.CellResult `json:"cells"`
	Code  string            `json:"code,omitempty"`
}

func (h *handlers) batchExecuteNotebookCells(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	sel := exec.Selection{CellIDs: getStrings(req, "cell_ids")}
	if len(sel.CellIDs) == 0 {
		start, end, err := indexRange(req)
		if err != nil {
			return reply{}, err
		}
		sel.Start, sel.End = &start, &end
	}
	timeout := h.cfg.ExecTimeout()
	if secs := getInt(req, "timeout", 0); secs > 0 {
		timeout = min(time.Duration(secs)*time.Second, maxExecTimeout)
	}

	var results []exec.CellResult
	_, err := h.withHandle(ctx, p, engine.KindNotebook, func(hd *engine.Handle) error {
		var err error
		results, err = h.svc.Runner.Run(ctx, hd, sel, timeout, auth.User(ctx))
		return err
	})
	if err != nil {
		return reply{}, err
	}

	counts := map[string]int{}
	out := execReply{Path: p, Cells: results}
	for _, r := range results {
		counts[r.Status]++
		if out.Code == "" && r.Code != "" {
			out.Code = r.Code
		}
	}
	var parts []string
	for _, s := range []string{exec.StatusOK, exec.StatusError, exec.StatusTimeout, exec.StatusSkipped} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	r := replyf(out, "%s: ran %d cells (%s)", p, len(results), strings.Join(parts, ", "))
	r.audit = map[string]any{"cells": len(results), "timeout": counts[exec.StatusTimeout], "error": counts[exec.StatusError]}
	return r, nil
}

func (h *handlers) checkContent(s, name string, i int) error {
	if err := validate.Content(s, h.cfg.MaxContent()); err != nil {
		return fmt.Errorf("%s[%d].source: %w", name, i, err)
	}
	return nil
}
