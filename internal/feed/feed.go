// Package feed serves event streams over WebSocket.
//
// A client connects to /events?stream=<id> (or ?path=<resource>) and
// receives the stream's events as JSON frames. Passing last_event_id, or
// the Last-Event-ID header when reconnecting, first replays every retained
// event after that id; the replay and the live tail are joined without a
// gap or a duplicate. A cursor older than the retention window gets a
// replay_gap frame and then the live tail, so the client knows to reload
// a snapshot. A client too slow to keep up gets a resync frame carrying the
// last id it was sent and the connection is closed.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/validate"
)

// Frame kinds.
const (
	KindEvent     = "event"
	KindReplayGap = "replay_gap"
	KindResync    = "resync"
)

// UserHeader carries the principal set by the upstream proxy.
const UserHeader = "X-Collab-User"

// Defaults for Options.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultBuffer       = 256
)

// Frame is one message sent to the client.
type Frame struct {
	Kind   string        `json:"kind"`
	Event  *events.Event `json:"event,omitempty"`
	Stream string        `json:"stream_id,omitempty"`
	// LastEventID is the cursor to resume from after a resync, or the
	// cursor that fell behind for a replay gap.
	LastEventID string `json:"last_event_id,omitempty"`
	Oldest      string `json:"oldest_event_id,omitempty"`
}

// Events is the part of the event store the feed needs.
type Events interface {
	SubscribeFrom(stream, after string, buffer int) (*events.Subscription, error)
}

// Authorizer checks read access to a document stream.
type Authorizer interface {
	Check(ctx context.Context, path string, need auth.Permission) error
}

// Options configures a Handler. Zero values select the defaults.
type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	Buffer       int
	// MaxPath bounds the resource path of a document stream; 0 is no limit.
	MaxPath int
}

// Handler is the WebSocket endpoint.
type Handler struct {
	events   Events
	authz    Authorizer
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler returns a handler. authz may be nil to allow every stream.
func NewHandler(ev Events, authz Authorizer, opts Options) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Handler{
		events: ev,
		authz:  authz,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stream, err := h.resolve(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	after := q.Get("last_event_id")
	if after == "" {
		after = r.Header.Get("Last-Event-ID")
	}

	ctx := r.Context()
	if u := r.Header.Get(UserHeader); u != "" {
		ctx = auth.WithUser(ctx, u)
	}
	// The awareness stream is open to every reader.
	if p, ok := events.PathOf(stream); ok && h.authz != nil {
		if err := h.authz.Check(ctx, p, auth.Read); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	var first *Frame
	cursor := after
	sub, err := h.events.SubscribeFrom(stream, after, h.opts.Buffer)
	var gap *events.ReplayGapError
	switch {
	case errors.As(err, &gap):
		sub, err = h.events.SubscribeFrom(stream, "", h.opts.Buffer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		first = &Frame{Kind: KindReplayGap, Stream: stream, LastEventID: after, Oldest: gap.Oldest}
		cursor = ""
	case errors.Is(err, events.ErrInvalidCursor):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		slog.Debug("feed upgrade", "stream", stream, "error", err)
		return
	}
	defer conn.Close()
	slog.Debug("feed connected", "stream", stream, "user", auth.User(ctx), "after", after)

	h.serve(conn, stream, sub, first, cursor)
}

// resolve returns the stream a request names. Only the awareness stream and
// document streams over a valid path exist; anything else would create a
// stream nobody writes to.
func (h *Handler) resolve(q url.Values) (string, error) {
	stream, raw := q.Get("stream"), q.Get("path")
	switch {
	case stream != "" && raw != "":
		return "", errors.New("give stream or path, not both")
	case stream == events.AwarenessStream:
		return stream, nil
	case stream != "":
		p, ok := events.PathOf(stream)
		if !ok {
			return "", fmt.Errorf("unknown stream %q", stream)
		}
		raw = p
	case raw == "":
		return "", errors.New("stream or path is required")
	}
	p, err := validate.Path(raw, h.opts.MaxPath)
	if err != nil {
		return "", err
	}
	return events.DocStream(p), nil
}

// serve writes frames until the client goes away or the subscription ends.
// last is the newest id the client is known to have.
func (h *Handler) serve(conn *websocket.Conn, stream string, sub *events.Subscription, first *Frame, last string) {
	closed := make(chan struct{})
	go func() {
		// Client messages are not expected; reading surfaces the close.
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f Frame) error {
		conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		return conn.WriteJSON(f)
	}

	if first != nil {
		if err := write(*first); err != nil {
			return
		}
	}
	for _, e := range sub.Backlog {
		if err := write(Frame{Kind: KindEvent, Event: &e}); err != nil {
			return
		}
		last = e.ID
	}

	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub.C:
			if !ok {
				write(Frame{Kind: KindResync, Stream: stream, LastEventID: last})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync"),
					time.Now().Add(h.opts.WriteTimeout))
				return
			}
			if err := write(Frame{Kind: KindEvent, Event: &e}); err != nil {
				return
			}
			last = e.ID
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
