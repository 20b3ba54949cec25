// tools_presence.go implements the awareness tools: presence, cursors and
// activity. A caller can only change their own presence and cursors; the
// user comes from the request context, never from an argument.

package mcp

import (
	"context"
	"fmt"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/presence"
	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) getOnlineUsers(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	doc := getString(req, "document_path", "")
	users := h.svc.Presence.Online(doc)
	where := "anywhere"
	if doc != "" {
		where = "in " + doc
	}
	out := map[string]any{"document_path": doc, "users": users}
	return replyf(out, "%d users online %s", len(users), where), nil
}

func (h *handlers) getUserPresence(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	id, err := requireString(req, "user_id")
	if err != nil {
		return reply{}, err
	}
	rec := h.svc.Presence.Presence(id, getString(req, "document_path", ""))
	return replyf(rec, "%s is %s", id, rec.Status), nil
}

func (h *handlers) setUserPresence(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	status := getString(req, "status", presence.StatusOnline)
	rec, err := h.svc.Presence.SetPresence(auth.User(ctx), status, getString(req, "message", ""))
	if err != nil {
		return reply{}, err
	}
	r := replyf(rec, "%s is now %s", rec.UserID, rec.Status)
	r.audit = map[string]any{"status": rec.Status}
	return r, nil
}

func (h *handlers) getUserCursors(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	doc := getString(req, "document_path", "")
	cursors := h.svc.Presence.Cursors(doc)
	out := map[string]any{"document_path": doc, "cursors": cursors}
	return replyf(out, "%s: %d active cursors", doc, len(cursors)), nil
}

// updateCursorPosition records the caller's cursor. A selection is only
// recorded when both of its ends are given.
func (h *handlers) updateCursorPosition(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	doc := getString(req, "document_path", "")
	line, col := getIntPtr(req, "line"), getIntPtr(req, "column")
	if line == nil || col == nil {
		return reply{}, fmt.Errorf("%w: line and column are required", ErrInvalidArgument)
	}
	var sel *presence.Selection
	start, end := getIntPtr(req, "selection_start"), getIntPtr(req, "selection_end")
	if start != nil && end != nil {
		sel = &presence.Selection{Start: *start, End: *end}
	}
	c, id, err := h.svc.Presence.UpdateCursor(auth.User(ctx), doc, *line, *col, sel)
	if err != nil {
		return reply{}, err
	}
	out := map[string]any{"cursor": c, "event_id": id}
	return replyf(out, "%s: cursor at %d:%d", doc, c.Line, c.Column), nil
}

func (h *handlers) getUserActivity(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	doc := getString(req, "document_path", "")
	limit := clamp(getInt(req, "limit", 0), defaultActivityLimit, h.cfg.ActivityCapacity())
	acts := h.svc.Presence.Activity(doc, limit)
	out := map[string]any{"document_path": doc, "activities": acts}
	return replyf(out, "%d recent activities", len(acts)), nil
}

func (h *handlers) broadcastUserActivity(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	typ, err := requireString(req, "activity_type")
	if err != nil {
		return reply{}, err
	}
	desc, err := requireString(req, "description")
	if err != nil {
		return reply{}, err
	}
	doc := getString(req, "document_path", "")
	a, err := h.svc.Presence.RecordActivity(auth.User(ctx), typ, desc, doc, getMap(req, "metadata"))
	if err != nil {
		return reply{}, err
	}
	r := replyf(a, "broadcast %s activity as event %s", typ, a.EventID)
	r.audit = map[string]any{"activity_type": typ}
	return r, nil
}
