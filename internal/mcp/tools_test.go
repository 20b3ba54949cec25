package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/exec"
	"github.com/jpl-au/collab/internal/fork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	assert.Len(t, registry, 33)
	for name, tl := range registry {
		assert.NotNil(t, tl.handle, name)
		assert.NotEmpty(t, tl.def.Description, name)
		assert.NotEqual(t, auth.None, tl.perm, name)
		if tl.pathArg != "" {
			_, declared := tl.def.InputSchema.Properties[tl.pathArg]
			assert.True(t, declared, "%s: path argument %s not in schema", name, tl.pathArg)
		}
	}
}

func TestIndexRejectsDuplicates(t *testing.T) {
	dup := []tool{
		{def: mcp.NewTool("x")},
		{def: mcp.NewTool("x")},
	}
	assert.Panics(t, func() { index(dup) })
}

func TestEditThenReplay(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": ""})

	ins := succeeded(t, call(t, h, "batch_insert_text", map[string]any{
		"path":       "a.txt",
		"insertions": []any{map[string]any{"text": "hello", "position": float64(0)}},
	}))
	assert.Equal(t, float64(1), ins.data["applied"])
	ids := list(ins, "event_ids")
	require.Len(t, ids, 1)
	after := ids[0].(string)

	del := succeeded(t, call(t, h, "batch_delete_text", map[string]any{
		"path":      "a.txt",
		"deletions": []any{map[string]any{"position": float64(0), "length": float64(2)}},
	}))
	assert.Equal(t, float64(3), del.data["new_length"])

	evs := succeeded(t, call(t, h, "get_events", map[string]any{"path": "a.txt", "last_event_id": after}))
	got := list(evs, "events")
	require.Len(t, got, 1)
	e := got[0].(map[string]any)
	assert.Equal(t, document.EventOp, e["type"])
	op := e["payload"].(map[string]any)["op"].(map[string]any)
	assert.Equal(t, "delete", op["type"])
	assert.Equal(t, false, evs.data["has_more"])
	assert.Equal(t, e["event_id"], evs.data["last_event_id"])

	doc := succeeded(t, call(t, h, "get_document", map[string]any{"path": "a.txt"}))
	assert.Equal(t, "llo", doc.data["content"])
	collab := doc.data["collaboration"].(map[string]any)
	assert.Equal(t, e["event_id"], collab["last_event_id"])
}

func TestBatchUpdateAppends(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": "ab"})

	r := succeeded(t, call(t, h, "batch_update_document", map[string]any{
		"path": "a.txt",
		"operations": []any{
			map[string]any{"content": "c"},
			map[string]any{"position": float64(-1), "content": "d"},
			map[string]any{"position": float64(0), "length": float64(1), "content": "A"},
		},
	}))
	assert.Equal(t, float64(3), r.data["applied"])
	assert.Equal(t, document.StatusApplied, r.data["status"])

	doc := succeeded(t, call(t, h, "get_document", map[string]any{"path": "a.txt"}))
	assert.Equal(t, "Abcd", doc.data["content"])
}

func TestPartialBatch(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": "abc"})
	ops := []any{
		map[string]any{"text": "x", "position": float64(0)},
		map[string]any{"text": "y", "position": float64(99)},
		map[string]any{"text": "z", "position": float64(0)},
	}

	t.Run("abort by default", func(t *testing.T) {
		r := succeeded(t, call(t, h, "batch_insert_text", map[string]any{"path": "a.txt", "insertions": ops}))
		assert.Equal(t, CodePartialBatch, r.code())
		assert.Equal(t, float64(1), r.data["applied"])
		failed := list(r, "failed")
		require.Len(t, failed, 2)
		assert.Equal(t, document.CodeInvalidRange, failed[0].(map[string]any)["code"])
		assert.Equal(t, document.CodeAborted, failed[1].(map[string]any)["code"])
		assert.Contains(t, r.summary, "applied 1 of 3")
	})

	t.Run("continue on error", func(t *testing.T) {
		r := succeeded(t, call(t, h, "batch_insert_text", map[string]any{
			"path": "a.txt", "insertions": ops, "continue_on_error": true,
		}))
		assert.Equal(t, CodePartialBatch, r.code())
		assert.Equal(t, float64(2), r.data["applied"])
		assert.Len(t, list(r, "failed"), 1)
	})

	doc := succeeded(t, call(t, h, "get_document", map[string]any{"path": "a.txt"}))
	assert.Equal(t, "zxxabc", doc.data["content"])
}

func TestArgumentErrors(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": "abc", "nb.ipynb": ""})

	tests := []struct {
		name string
		tool string
		args map[string]any
		code string
	}{
		{"traversal", "get_document", map[string]any{"path": "../etc/passwd"}, CodeInvalidArgument},
		{"absolute", "get_document", map[string]any{"path": "/etc/passwd"}, CodeInvalidArgument},
		{"wrong kind", "get_document", map[string]any{"path": "nb.ipynb"}, CodeInvalidArgument},
		{"missing file", "get_document", map[string]any{"path": "missing.txt"}, CodeResourceNotFound},
		{"empty batch", "batch_insert_text", map[string]any{"path": "a.txt", "insertions": []any{}}, CodeInvalidArgument},
		{"not an object", "batch_insert_text", map[string]any{"path": "a.txt", "insertions": []any{"x"}}, CodeInvalidArgument},
		{"negative length", "batch_delete_text", map[string]any{
			"path": "a.txt", "deletions": []any{map[string]any{"position": float64(0), "length": float64(-1)}},
		}, CodeInvalidArgument},
		{"negative insert position", "batch_insert_text", map[string]any{
			"path": "a.txt", "insertions": []any{map[string]any{"text": "x", "position": float64(-1)}},
		}, CodeInvalidRange},
		{"position below append", "batch_update_document", map[string]any{
			"path": "a.txt", "operations": []any{map[string]any{"content": "x", "position": float64(-2)}},
		}, CodeInvalidRange},
		{"negative cell position", "batch_insert_notebook_cells", map[string]any{
			"path": "nb.ipynb", "cells": []any{map[string]any{"source": "x", "position": float64(-1)}},
		}, CodeInvalidRange},
		{"negative start position", "batch_insert_notebook_cells", map[string]any{
			"path": "nb.ipynb", "start_position": float64(-3), "cells": []any{map[string]any{"source": "x"}},
		}, CodeInvalidRange},
		{"bad status", "set_user_presence", map[string]any{"status": "asleep"}, CodeInvalidArgument},
		{"negative cursor", "update_cursor_position", map[string]any{
			"document_path": "a.txt", "line": float64(-1), "column": float64(0),
		}, CodeInvalidArgument},
		{"unknown session", "join_session", map[string]any{"session_id": "nope"}, CodeSessionNotFound},
		{"unknown fork", "merge_document_fork", map[string]any{"path": "a.txt", "fork_id": "nope"}, CodeResourceNotFound},
		{"unknown topic", "get_guide", map[string]any{"topic": "nope"}, CodeInvalidArgument},
		{"no stream", "get_events", map[string]any{}, CodeInvalidArgument},
		{"bad cursor", "get_events", map[string]any{"path": "a.txt", "last_event_id": "xyz"}, CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := call(t, h, tt.tool, tt.args)
			require.True(t, r.isError, r.summary)
			assert.Equal(t, tt.code, r.code(), r.summary)
			assert.True(t, strings.HasPrefix(r.summary, tt.code+": "), r.summary)
		})
	}

	doc := succeeded(t, call(t, h, "get_document", map[string]any{"path": "a.txt"}))
	assert.Equal(t, "abc", doc.data["content"], "rejected batches leave the document alone")
}

func TestReplayGapDetails(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": ""})
	stale := ulid.Make().String()

	r := call(t, h, "get_events", map[string]any{"stream_id": "doc:a.txt", "last_event_id": stale})
	require.True(t, r.isError)
	assert.Equal(t, CodeReplayGap, r.code())
	details := r.data["details"].(map[string]any)
	assert.Equal(t, "doc:a.txt", details["stream_id"])
	assert.Equal(t, stale, details["last_event_id"])
}

func TestForbidden(t *testing.T) {
	cfg := &config.Config{Auth: config.Auth{Rules: []auth.Rule{
		{Pattern: "secret.txt", Permission: "none"},
		{Pattern: "ro.txt", Permission: "read"},
	}}}
	h := setupHandlers(t, cfg, map[string]string{"a.txt": "", "secret.txt": "x", "ro.txt": "y"})

	r := call(t, h, "get_document", map[string]any{"path": "secret.txt"})
	assert.Equal(t, CodeForbidden, r.code())

	r = call(t, h, "batch_insert_text", map[string]any{
		"path": "ro.txt", "insertions": []any{map[string]any{"text": "z", "position": float64(0)}},
	})
	assert.Equal(t, CodeForbidden, r.code())

	r = call(t, h, "get_events", map[string]any{"stream_id": "doc:secret.txt"})
	assert.Equal(t, CodeForbidden, r.code())

	r = call(t, h, "get_event_stats", nil)
	assert.Equal(t, CodeForbidden, r.code(), "admin needed")

	docs := succeeded(t, call(t, h, "list_documents", map[string]any{}))
	var paths []string
	for _, e := range list(docs, "resources") {
		paths = append(paths, e.(map[string]any)["path"].(string))
	}
	assert.ElementsMatch(t, []string{"a.txt", "ro.txt"}, paths)
}

func TestRateLimited(t *testing.T) {
	limit := 2
	cfg := &config.Config{Auth: config.Auth{RateLimit: &limit}}
	h := setupHandlers(t, cfg, nil)

	succeeded(t, call(t, h, "get_guide", nil))
	succeeded(t, call(t, h, "get_guide", nil))
	r := call(t, h, "get_guide", nil)
	assert.Equal(t, CodeRateLimited, r.code())

	bob := auth.WithUser(context.Background(), "bob")
	succeeded(t, callAs(t, h, bob, "get_guide", nil))
}

func TestForkLifecycle(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": "base"})

	created := succeeded(t, call(t, h, "fork_document", map[string]any{"path": "a.txt", "title": "try"}))
	id := created.data["fork_id"].(string)
	fp := created.data["fork_path"].(string)
	assert.Equal(t, fork.ForkPath("a.txt", id), fp)
	assert.Equal(t, "alice", created.data["author"])

	succeeded(t, call(t, h, "batch_insert_text", map[string]any{
		"path": fp, "insertions": []any{map[string]any{"text": " more", "position": float64(4)}},
	}))

	forks := succeeded(t, call(t, h, "list_document_forks", map[string]any{"path": "a.txt"}))
	assert.Len(t, list(forks, "forks"), 1)

	merged := succeeded(t, call(t, h, "merge_document_fork", map[string]any{"path": "a.txt", "fork_id": id}))
	assert.Equal(t, float64(1), merged.data["applied"])
	assert.Empty(t, merged.code())
	assert.Equal(t, fork.StateMerged, merged.data["fork"].(map[string]any)["state"])

	doc := succeeded(t, call(t, h, "get_document", map[string]any{"path": "a.txt"}))
	assert.Equal(t, "base more", doc.data["content"])

	r := call(t, h, "batch_insert_text", map[string]any{
		"path": fp, "insertions": []any{map[string]any{"text": "late", "position": float64(0)}},
	})
	assert.Equal(t, CodeForkClosed, r.code(), "closed forks reject edits")

	r = call(t, h, "abandon_document_fork", map[string]any{"path": "a.txt", "fork_id": id})
	assert.Equal(t, CodeForkClosed, r.code())
}

func TestHistoryAndRestore(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": "one"})

	first := succeeded(t, call(t, h, "batch_update_document", map[string]any{
		"path": "a.txt", "operations": []any{map[string]any{"position": float64(0), "length": float64(3), "content": "two"}},
	}))
	v1 := first.data["version"].(map[string]any)["version_id"].(string)
	succeeded(t, call(t, h, "batch_update_document", map[string]any{
		"path": "a.txt", "operations": []any{map[string]any{"position": float64(0), "length": float64(3), "content": "three"}},
	}))

	hist := succeeded(t, call(t, h, "get_document_history", map[string]any{"path": "a.txt"}))
	assert.Len(t, list(hist, "versions"), 2)

	diff := succeeded(t, call(t, h, "get_version_diff", map[string]any{"path": "a.txt", "from_version": v1}))
	assert.Positive(t, diff.data["additions"])
	assert.NotEmpty(t, diff.data["diff"])

	succeeded(t, call(t, h, "restore_document_version", map[string]any{"path": "a.txt", "version_id": v1}))
	doc := succeeded(t, call(t, h, "get_document", map[string]any{"path": "a.txt"}))
	assert.Equal(t, "two", doc.data["content"])
}

func TestNotebookSessionJoinLeave(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"nb.ipynb": ""})

	s := succeeded(t, call(t, h, "create_notebook_session", map[string]any{"path": "nb.ipynb"}))
	id := s.data["session_id"].(string)
	assert.Equal(t, "notebook:nb.ipynb", s.data["room_id"])

	joined := succeeded(t, call(t, h, "join_session", map[string]any{"session_id": id}))
	assert.Equal(t, float64(1), joined.data["participant_count"])
	assert.Equal(t, []any{"alice"}, joined.data["participants"])

	active := succeeded(t, call(t, h, "get_active_sessions", map[string]any{"document_path": "*.ipynb"}))
	assert.Len(t, list(active, "sessions"), 1)

	left := succeeded(t, call(t, h, "leave_session", map[string]any{"session_id": id}))
	assert.Equal(t, float64(0), left.data["participant_count"])
}

func TestNotebookCells(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"nb.ipynb": ""})

	ins := succeeded(t, call(t, h, "batch_insert_notebook_cells", map[string]any{
		"path": "nb.ipynb",
		"cells": []any{
			map[string]any{"source": "print(1)"},
			map[string]any{"source": "# Notes", "cell_type": "markdown"},
			map[string]any{"source": "print(2)"},
		},
	}))
	assert.Equal(t, float64(3), ins.data["applied"])

	nb := succeeded(t, call(t, h, "get_notebook", map[string]any{"path": "nb.ipynb"}))
	cells := list(nb, "cells")
	require.Len(t, cells, 3)
	assert.Equal(t, "markdown", cells[1].(map[string]any)["cell_type"])

	succeeded(t, call(t, h, "batch_update_notebook_cells", map[string]any{
		"path":    "nb.ipynb",
		"updates": []any{map[string]any{"index": float64(2), "source": "print(3)"}},
	}))

	run := succeeded(t, call(t, h, "batch_execute_notebook_cells", map[string]any{
		"path": "nb.ipynb", "start_index": float64(0), "end_index": float64(2),
	}))
	results := list(run, "cells")
	require.Len(t, results, 3)
	assert.Equal(t, exec.StatusOK, results[0].(map[string]any)["status"])

	del := succeeded(t, call(t, h, "batch_delete_notebook_cells", map[string]any{
		"path": "nb.ipynb", "start_index": float64(1), "end_index": float64(2),
	}))
	assert.Equal(t, float64(2), del.data["applied"])

	nb = succeeded(t, call(t, h, "get_notebook", map[string]any{"path": "nb.ipynb"}))
	require.Len(t, list(nb, "cells"), 1)
}

func TestAwareness(t *testing.T) {
	h := setupHandlers(t, nil, map[string]string{"a.txt": "hello"})

	succeeded(t, call(t, h, "update_cursor_position", map[string]any{
		"document_path": "a.txt", "line": float64(0), "column": float64(2),
		"selection_start": float64(1), "selection_end": float64(3),
	}))
	cursors := succeeded(t, call(t, h, "get_user_cursors", map[string]any{"document_path": "a.txt"}))
	got := list(cursors, "cursors")
	require.Len(t, got, 1)
	c := got[0].(map[string]any)
	assert.Equal(t, "alice", c["user_id"])
	assert.Equal(t, float64(2), c["column"])

	p := succeeded(t, call(t, h, "set_user_presence", map[string]any{"status": "busy", "message": "reviewing"}))
	assert.Equal(t, "busy", p.data["status"])

	online := succeeded(t, call(t, h, "get_online_users", map[string]any{"document_path": "a.txt"}))
	assert.Len(t, list(online, "users"), 1)

	act := succeeded(t, call(t, h, "broadcast_user_activity", map[string]any{
		"activity_type": "review", "description": "reading", "document_path": "a.txt",
		"metadata": map[string]any{"section": "intro"},
	}))
	assert.NotEmpty(t, act.data["event_id"])

	recent := succeeded(t, call(t, h, "get_user_activity", map[string]any{"document_path": "a.txt"}))
	acts := list(recent, "activities")
	require.Len(t, acts, 1)
	assert.Equal(t, "review", acts[0].(map[string]any)["activity_type"])
}

func TestGuide(t *testing.T) {
	h := setupHandlers(t, nil, nil)
	r := succeeded(t, call(t, h, "get_guide", map[string]any{"topic": "forks"}))
	assert.Contains(t, strings.ToLower(r.summary), "fork")

	r = call(t, h, "get_guide", map[string]any{"topic": "nope"})
	assert.Contains(t, r.summary, "available: config, documents")
}
