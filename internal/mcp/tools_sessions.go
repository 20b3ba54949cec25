// tools_sessions.go implements the session tools.
//
// Sessions are addressed by id, so the path check happens here rather than
// in dispatch: the caller needs read access to the session's resource.

package mcp

import (
	"context"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) getActiveSessions(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	filter := getString(req, "document_path", "")
	all, err := h.svc.Sessions.List(filter)
	if err != nil {
		return reply{}, err
	}
	user := auth.User(ctx)
	sessions := make([]session.Session, 0, len(all))
	for _, s := range all {
		if h.svc.Auth.Granted(user, s.Path) >= auth.Read {
			sessions = append(sessions, s)
		}
	}
	out := map[string]any{"filter": filter, "sessions": sessions}
	return replyf(out, "%d active sessions", len(sessions)), nil
}

func (h *handlers) joinSession(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.updateSession(ctx, req, "joined", h.svc.Sessions.Join)
}

func (h *handlers) leaveSession(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	return h.updateSession(ctx, req, "left", h.svc.Sessions.Leave)
}

type sessionUpdate func(ctx context.Context, id, user string) (session.Session, error)

func (h *handlers) updateSession(ctx context.Context, req mcp.CallToolRequest, verb string, fn sessionUpdate) (reply, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return reply{}, err
	}
	s, err := h.svc.Sessions.Session(id)
	if err != nil {
		return reply{}, err
	}
	if err := h.svc.Auth.Check(ctx, s.Path, auth.Read); err != nil {
		return reply{}, err
	}
	user := auth.User(ctx)
	s, err = fn(ctx, id, user)
	if err != nil {
		return reply{}, err
	}
	h.svc.Presence.Touch(user, s.Path)
	r := replyf(s, "%s %s session %s on %s (%d participants)", user, verb, id, s.Path, s.Participants)
	r.audit = map[string]any{"session_id": id}
	return r, nil
}
