// tools_documents.go implements the document tools: listing, reading,
// sessions, batch edits and version history.
//
// Design: Edits always go through the resource's session (Sessions.With),
// never a private handle, so there is one live binding per path however
// many clients edit it. A batch that only partly applies is a successful
// call whose result says exactly which operations failed; only a batch that
// could not run at all is a tool error.

package mcp

import (
	"context"
	"fmt"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/glob"
	"github.com/jpl-au/collab/internal/presence"
	"github.com/jpl-au/collab/internal/session"
	"github.com/jpl-au/collab/internal/validate"
	"github.com/mark3labs/mcp-go/mcp"
)

// requireKind rejects paths of the other resource kind, pointing the
// caller at the right tool family.
func requireKind(p string, want engine.Kind) error {
	if got := engine.KindOf(p); got != want {
		return fmt.Errorf("%w: %s is a %s, use the %s tools", engine.ErrKindMismatch, p, got, got)
	}
	return nil
}

// withHandle runs fn with the handle of p's session.
func (h *handlers) withHandle(ctx context.Context, p string, kind engine.Kind, fn func(*engine.Handle) error) (session.Session, error) {
	if err := requireKind(p, kind); err != nil {
		return session.Session{}, err
	}
	return h.svc.Sessions.With(ctx, p, kind, fn)
}

// listing is the result of list_documents and list_notebooks.
type listing struct {
	Path      string         `json:"path"`
	Pattern   string         `json:"pattern,omitempty"`
	Kind      engine.Kind    `json:"kind"`
	Resources []engine.Entry `json:"resources"`
	Total     int            `json:"total"`
	Truncated bool           `json:"truncated"`
}

func (h *handlers) listDocuments(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.listResources(ctx, req, engine.KindDocument)
}

func (h *handlers) listNotebooks(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.listResources(ctx, req, engine.KindNotebook)
}

// listResources lists resources the caller may read. Total counts every
// match so callers can tell how much max_results cut off.
func (h *handlers) listResources(ctx context.Context, req mcp.CallToolRequest, kind engine.Kind) (reply, error) {
	prefix := getString(req, "path", "")
	pattern := getString(req, "pattern", "")
	limit := clamp(getInt(req, "max_results", defaultMaxResults), defaultMaxResults, h.cfg.MaxResults())

	entries, err := h.svc.Docs.List(ctx, kind, prefix)
	if err != nil {
		return reply{}, err
	}
	user := auth.User(ctx)
	out := listing{Path: prefix, Pattern: pattern, Kind: kind, Resources: []engine.Entry{}}
	for _, e := range entries {
		if pattern != "" {
			ok, err := glob.Match(pattern, e.Path)
			if err != nil {
				return reply{}, fmt.Errorf("%w: pattern %q: %v", ErrInvalidArgument, pattern, err)
			}
			if !ok {
				continue
			}
		}
		if h.svc.Auth.Granted(user, e.Path) < auth.Read {
			continue
		}
		out.Total++
		if len(out.Resources) < limit {
			out.Resources = append(out.Resources, e)
		}
	}
	out.Truncated = out.Total > len(out.Resources)

	summary := fmt.Sprintf("%d %ss", out.Total, kind)
	if out.Truncated {
		summary += fmt.Sprintf(" (showing %d)", len(out.Resources))
	}
	return replyf(out, "%s", summary), nil
}

// collaboration is the live state around a resource.
type collaboration struct {
	Session     session.Session   `json:"session"`
	Online      []presence.Record `json:"online_users"`
	Cursors     []presence.Cursor `json:"cursors"`
	LastEventID string            `json:"last_event_id,omitempty"`
}

type readReply struct {
	*document.ReadResult
	Collaboration *collaboration `json:"collaboration,omitempty"`
}

func (h *handlers) getDocument(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.read(ctx, req, engine.KindDocument)
}

func (h *handlers) getNotebook(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.read(ctx, req, engine.KindNotebook)
}

func (h *handlers) read(ctx context.Context, req mcp.CallToolRequest, kind engine.Kind) (reply, error) {
	p := getString(req, "path", "")
	maxLen := clamp(getInt(req, "max_content_length", h.cfg.MaxContentLength()), h.cfg.MaxContentLength(), int(h.cfg.MaxContent()))

	// Taken before the read: replaying from it may repeat an operation the
	// content already has, but never misses one.
	last := h.svc.Events.Last(events.DocStream(p))

	var res *document.ReadResult
	sess, err := h.withHandle(ctx, p, kind, func(hd *engine.Handle) error {
		var err error
		res, err = h.svc.Docs.Read(ctx, hd, maxLen)
		return err
	})
	if err != nil {
		return reply{}, err
	}

	out := readReply{ReadResult: res}
	if getBool(req, "include_collaboration_state", true) {
		out.Collaboration = &collaboration{
			Session:     sess,
			Online:      nonNil(h.svc.Presence.Online(p)),
			Cursors:     nonNil(h.svc.Presence.Cursors(p)),
			LastEventID: last,
		}
	}

	summary := fmt.Sprintf("%s: %d characters", p, res.FullLength)
	if kind == engine.KindNotebook {
		summary = fmt.Sprintf("%s: %d cells", p, len(res.Cells))
	}
	if res.Truncated {
		summary += fmt.Sprintf(" (truncated to %d)", maxLen)
	}
	return replyf(out, "%s", summary), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type sessionReply struct {
	session.Session
	FileType    string `json:"file_type"`
	LastEventID string `json:"last_event_id,omitempty"`
}

func (h *handlers) createDocumentSession(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.createSession(ctx, req, engine.KindDocument)
}

func (h *handlers) createNotebookSession(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.createSession(ctx, req, engine.KindNotebook)
}

func (h *handlers) createSession(ctx context.Context, req mcp.CallToolRequest, kind engine.Kind) (reply, error) {
	p := getString(req, "path", "")
	if err := requireKind(p, kind); err != nil {
		return reply{}, err
	}
	sess, err := h.svc.Sessions.GetOrCreate(ctx, p, kind)
	if err != nil {
		return reply{}, err
	}
	out := sessionReply{
		Session:     sess,
		FileType:    engine.FileType(p),
		LastEventID: h.svc.Events.Last(events.DocStream(p)),
	}
	return replyf(out, "session %s for %s (%d participants)", sess.ID, p, sess.Participants), nil
}

// batchReply is the result of every batch edit.
type batchReply struct {
	Path string `json:"path"`
	*document.BatchResult
	Code string `json:"code,omitempty"`
}

// batchError is an engine failure part way through a batch. The result
// reports what was committed before it.
type batchError struct {
	result *document.BatchResult
	err    error
}

func (e *batchError) Error() string { return e.err.Error() }
func (e *batchError) Unwrap() error { return e.err }

// applyBatch runs ops against p as the calling principal.
func (h *handlers) applyBatch(ctx context.Context, p string, kind engine.Kind, ops []engine.Op, cont bool) (reply, error) {
	if len(ops) == 0 {
		return reply{}, fmt.Errorf("%w: no operations", ErrInvalidArgument)
	}
	var res *document.BatchResult
	_, err := h.withHandle(ctx, p, kind, func(hd *engine.Handle) error {
		var err error
		res, err = h.svc.Docs.ApplyBatch(ctx, hd, ops, document.BatchOptions{
			Author:          auth.User(ctx),
			ContinueOnError: cont,
		})
		return err
	})
	return batchOutcome(p, res, err)
}

// batchOutcome turns an adapter result into a reply.
func batchOutcome(p string, res *document.BatchResult, err error) (reply, error) {
	if err != nil {
		if res != nil {
			return reply{}, &batchError{result: res, err: err}
		}
		return reply{}, err
	}
	out := batchReply{Path: p, BatchResult: res}
	if perr := res.Err(); perr != nil {
		out.Code = Code(perr)
	}

	total := res.Applied + len(res.Failed)
	summary := fmt.Sprintf("%s: applied %d of %d operations (%s)", p, res.Applied, total, res.Status)
	if res.Version != nil {
		summary += fmt.Sprintf(", now v%d %s", res.Version.Seq, res.Version.VersionID)
	}
	if len(res.Failed) > 0 {
		f := res.Failed[0]
		summary += fmt.Sprintf("; operation %d failed: %s", f.Index, f.Reason)
	}

	r := replyf(out, "%s", summary)
	if res.Version != nil {
		r.version = res.Version.VersionID
	}
	r.audit = map[string]any{"applied": res.Applied, "failed": len(res.Failed)}
	return r, nil
}

// position reads the optional position of a batch item. Omitted means
// append; an explicit negative position is out of range, never an append.
func position(it map[string]any, list string, i int) (int, error) {
	pos := fieldPtr(it, "position")
	switch {
	case pos == nil:
		return engine.AppendPos, nil
	case *pos < 0:
		return 0, fmt.Errorf("%w: %s[%d].position %d is negative", document.ErrInvalidRange, list, i, *pos)
	}
	return *pos, nil
}

func (h *handlers) batchUpdateDocument(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	items, err := getObjects(req, "operations")
	if err != nil {
		return reply{}, err
	}
	ops := make([]engine.Op, 0, len(items))
	for i, it := range items {
		content := fieldString(it, "content", "")
		if err := validate.Content(content, h.cfg.MaxContent()); err != nil {
			return reply{}, fmt.Errorf("operations[%d].content: %w", i, err)
		}
		// -1 is the documented append position here; nothing else negative.
		pos := field(it, "position", engine.AppendPos)
		if pos < engine.AppendPos {
			return reply{}, fmt.Errorf("%w: operations[%d].position %d is negative", document.ErrInvalidRange, i, pos)
		}
		length := field(it, "length", 0)
		if err := validate.NonNegative(fmt.Sprintf("operations[%d].length", i), length); err != nil {
			return reply{}, err
		}
		switch {
		case length == 0:
			ops = append(ops, engine.Op{Type: engine.OpInsert, Pos: pos, Text: content})
		case content == "":
			ops = append(ops, engine.Op{Type: engine.OpDelete, Pos: pos, Len: length})
		default:
			ops = append(ops, engine.Op{Type: engine.OpReplace, Pos: pos, Len: length, Text: content})
		}
	}
	return h.applyBatch(ctx, p, engine.KindDocument, ops, getBool(req, "continue_on_error", false))
}

func (h *handlers) batchInsertText(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	items, err := getObjects(req, "insertions")
	if err != nil {
		return reply{}, err
	}
	ops := make([]engine.Op, 0, len(items))
	for i, it := range items {
		text, ok := it["text"].(string)
		if !ok {
			return reply{}, fmt.Errorf("%w: insertions[%d].text is required", ErrInvalidArgument, i)
		}
		if err := validate.Content(text, h.cfg.MaxContent()); err != nil {
			return reply{}, fmt.Errorf("insertions[%d].text: %w", i, err)
		}
		if fieldPtr(it, "position") == nil {
			return reply{}, fmt.Errorf("%w: insertions[%d].position is required", ErrInvalidArgument, i)
		}
		pos, err := position(it, "insertions", i)
		if err != nil {
			return reply{}, err
		}
		ops = append(ops, engine.Op{Type: engine.OpInsert, Pos: pos, Text: text})
	}
	return h.applyBatch(ctx, p, engine.KindDocument, ops, getBool(req, "continue_on_error", false))
}

func (h *handlers) batchDeleteText(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	items, err := getObjects(req, "deletions")
	if err != nil {
		return reply{}, err
	}
	ops := make([]engine.Op, 0, len(items))
	for i, it := range items {
		pos, length := fieldPtr(it, "position"), fieldPtr(it, "length")
		if pos == nil || length == nil {
			return reply{}, fmt.Errorf("%w: deletions[%d] needs position and length", ErrInvalidArgument, i)
		}
		if err := validate.NonNegative(fmt.Sprintf("deletions[%d].length", i), *length); err != nil {
			return reply{}, err
		}
		ops = append(ops, engine.Op{Type: engine.OpDelete, Pos: *pos, Len: *length})
	}
	return h.applyBatch(ctx, p, engine.KindDocument, ops, getBool(req, "continue_on_error", false))
}

func (h *handlers) getDocumentHistory(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	limit := clamp(getInt(req, "limit", defaultHistoryLimit), defaultHistoryLimit, maxHistoryLimit)
	versions, err := h.svc.Docs.History(ctx, p, limit)
	if err != nil {
		return reply{}, err
	}
	out := map[string]any{"path": p, "versions": versions}
	if len(versions) == 0 {
		return replyf(out, "%s has no recorded versions", p), nil
	}
	return replyf(out, "%s: %d versions, latest v%d %s", p, len(versions), versions[0].Seq, versions[0].VersionID), nil
}

func (h *handlers) getVersionDiff(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	from, err := requireString(req, "from_version")
	if err != nil {
		return reply{}, err
	}
	to := getString(req, "to_version", "")
	d, err := h.svc.Docs.Diff(ctx, p, from, to)
	if err != nil {
		return reply{}, err
	}
	if d.Diff == "" {
		return replyf(d, "%s and %s are identical", d.Old, d.New), nil
	}
	return replyf(d, "%s -> %s: +%d -%d lines", d.Old, d.New, d.Additions, d.Deletions), nil
}

func (h *handlers) restoreDocumentVersion(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	ref, err := requireString(req, "version_id")
	if err != nil {
		return reply{}, err
	}
	var res *document.BatchResult
	_, err = h.withHandle(ctx, p, engine.KindOf(p), func(hd *engine.Handle) error {
		var err error
		res, err = h.svc.Docs.Restore(ctx, hd, ref, auth.User(ctx))
		return err
	})
	return batchOutcome(p, res, err)
}
