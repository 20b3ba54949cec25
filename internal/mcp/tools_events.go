// tools_events.go implements polling access to the event log. Clients that
// want a push feed use the /events websocket instead; both read the same
// streams with the same resume semantics.

package mcp

import (
	"context"
	"fmt"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/validate"
	"github.com/mark3labs/mcp-go/mcp"
)

type eventsReply struct {
	Stream      string         `json:"stream_id"`
	Events      []events.Event `json:"events"`
	HasMore     bool           `json:"has_more"`
	LastEventID string         `json:"last_event_id,omitempty"`
}

// stream resolves the stream a get_events call names and checks the caller
// may read it. The awareness stream is open to every reader.
func (h *handlers) stream(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	id := getString(req, "stream_id", "")
	if raw := getString(req, "path", ""); raw != "" {
		if id != "" {
			return "", fmt.Errorf("%w: give stream_id or path, not both", ErrInvalidArgument)
		}
		p, err := validate.Path(raw, h.cfg.MaxPath())
		if err != nil {
			return "", fmt.Errorf("path: %w", err)
		}
		id = events.DocStream(p)
	}
	switch {
	case id == "":
		return "", fmt.Errorf("%w: stream_id or path is required", ErrInvalidArgument)
	case id == events.AwarenessStream:
		return id, nil
	}
	p, ok := events.PathOf(id)
	if !ok {
		return "", fmt.Errorf("%w: unknown stream %q", ErrInvalidArgument, id)
	}
	p, err := validate.Path(p, h.cfg.MaxPath())
	if err != nil {
		return "", fmt.Errorf("stream_id: %w", err)
	}
	if err := h.svc.Auth.Check(ctx, p, auth.Read); err != nil {
		return "", err
	}
	return events.DocStream(p), nil
}

func (h *handlers) getEvents(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	stream, err := h.stream(ctx, req)
	if err != nil {
		return reply{}, err
	}
	after := getString(req, "last_event_id", "")
	limit := clamp(getInt(req, "max_events", 0), defaultMaxEvents, h.cfg.MaxResults())
	evs, more, err := h.svc.Events.Since(stream, after, limit)
	if err != nil {
		return reply{}, err
	}
	out := eventsReply{Stream: stream, Events: nonNil(evs), HasMore: more, LastEventID: after}
	if len(evs) > 0 {
		out.LastEventID = evs[len(evs)-1].ID
	}
	summary := fmt.Sprintf("%s: %d events", stream, len(evs))
	if more {
		summary += ", more available"
	}
	return replyf(out, "%s", summary), nil
}

func (h *handlers) getEventStats(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	st := h.svc.Events.Stats()
	return replyf(st, "%d events retained across %d streams", st.Events, st.Streams), nil
}
