// Package session keeps at most one live collaboration session per
// resource path.
//
// A session owns the engine handle for its resource. It is created on first
// access, counts the participants that joined it and, once the count drops
// to zero, lingers for an idle grace period so a quick reconnect finds the
// same session. All lifecycle changes for one path run under that path's
// lock; teardown re-checks the count and the timer generation under the same
// lock, so a late joiner can never lose its session to a stale timer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/glob"
	"github.com/jpl-au/collab/internal/keylock"
)

// DefaultIdleGrace is how long an empty session survives.
const DefaultIdleGrace = 30 * time.Second

// Event types emitted by the registry.
const (
	EventJoin     = "presence.join"
	EventLeave    = "presence.leave"
	EventExternal = "document.external_update"
	EventClosed   = "session.closed"
)

// ErrNotFound is returned for unknown or torn-down session ids.
var ErrNotFound = errors.New("session not found")

// Documents is the part of the document adapter the registry needs.
type Documents interface {
	Open(ctx context.Context, path string, kind engine.Kind) (*engine.Handle, error)
	Close(h *engine.Handle) error
	Subscribe(h *engine.Handle) (<-chan engine.Update, func())
}

// Emitter publishes events. *events.Store satisfies it.
type Emitter interface {
	Emit(stream, typ string, payload any) (string, error)
}

// Session is a point-in-time view of a live session.
type Session struct {
	ID           string      `json:"session_id"`
	RoomID       string      `json:"room_id"`
	Path         string      `json:"resource_path"`
	Kind         engine.Kind `json:"kind"`
	Participants int         `json:"participant_count"`
	Users        []string    `json:"participants"`
	CreatedAt    time.Time   `json:"created_at"`
}

type session struct {
	id        string
	path      string
	kind      engine.Kind
	created   time.Time
	handle    *engine.Handle
	count     int
	users     map[string]int
	inUse     int
	gen       uint64
	timer     *time.Timer
	stopWatch func()
}

func (s *session) view() Session {
	users := make([]string, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return Session{
		ID:           s.id,
		RoomID:       fmt.Sprintf("%s:%s", s.kind, s.path),
		Path:         s.path,
		Kind:         s.kind,
		Participants: s.count,
		Users:        users,
		CreatedAt:    s.created,
	}
}

// Options configures a Registry.
type Options struct {
	IdleGrace time.Duration
}

// Registry owns every live session.
type Registry struct {
	docs  Documents
	emit  Emitter
	grace time.Duration
	locks keylock.Map

	mu     sync.RWMutex // guards the maps; taken after a path lock
	byPath map[string]*session
	byID   map[string]*session
	closed bool
}

// NewRegistry returns an empty registry.
func NewRegistry(docs Documents, emit Emitter, opts Options) *Registry {
	if opts.IdleGrace <= 0 {
		opts.IdleGrace = DefaultIdleGrace
	}
	return &Registry{
		docs:   docs,
		emit:   emit,
		grace:  opts.IdleGrace,
		byPath: make(map[string]*session),
		byID:   make(map[string]*session),
	}
}

func (r *Registry) lookupPath(path string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[path]
}

func (r *Registry) pathOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return s.path, true
}

// GetOrCreate returns the session for path, opening the resource on first
// access. It never changes the participant count, but touching an empty
// session restarts its idle grace period.
func (r *Registry) GetOrCreate(ctx context.Context, path string, kind engine.Kind) (Session, error) {
	unlock := r.locks.Lock(path)
	defer unlock()
	s, err := r.getOrCreateLocked(ctx, path, kind)
	if err != nil {
		return Session{}, err
	}
	return s.view(), nil
}

func (r *Registry) getOrCreateLocked(ctx context.Context, path string, kind engine.Kind) (*session, error) {
	if s := r.lookupPath(path); s != nil {
		if s.kind != kind {
			return nil, fmt.Errorf("%w: %s is a %s", engine.ErrKindMismatch, path, s.kind)
		}
		if s.count == 0 {
			r.armLocked(s)
		}
		return s, nil
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, engine.ErrUnavailable
	}

	h, err := r.docs.Open(ctx, path, kind)
	if err != nil {
		return nil, err
	}
	s := &session{
		id:      uuid.NewString(),
		path:    path,
		kind:    kind,
		created: time.Now().UTC(),
		handle:  h,
		users:   make(map[string]int),
	}
	s.stopWatch = r.watch(s)

	r.mu.Lock()
	r.byPath[path] = s
	r.byID[s.id] = s
	r.mu.Unlock()

	r.armLocked(s)
	slog.Debug("session created", "path", path, "session_id", s.id)
	return s, nil
}

// With runs fn with the handle of path's session, creating the session if
// needed. The session cannot be torn down while fn runs. fn runs outside
// the registry's path lock.
func (r *Registry) With(ctx context.Context, path string, kind engine.Kind, fn func(h *engine.Handle) error) (Session, error) {
	unlock := r.locks.Lock(path)
	s, err := r.getOrCreateLocked(ctx, path, kind)
	if err != nil {
		unlock()
		return Session{}, err
	}
	s.inUse++
	view := s.view()
	unlock()

	defer func() {
		unlock := r.locks.Lock(path)
		defer unlock()
		s.inUse--
		if s.count == 0 && s.inUse == 0 {
			r.armLocked(s)
		}
	}()
	return view, fn(s.handle)
}

// Join adds a participant and cancels any pending teardown.
func (r *Registry) Join(ctx context.Context, id, user string) (Session, error) {
	return r.update(id, func(s *session) (string, bool) {
		s.count++
		s.users[user]++
		r.disarmLocked(s)
		return EventJoin, true
	}, user)
}

// Leave removes a participant. At zero participants the idle grace period
// starts. Leaving as a user who has not joined is a no-op.
func (r *Registry) Leave(ctx context.Context, id, user string) (Session, error) {
	return r.update(id, func(s *session) (string, bool) {
		n := s.users[user]
		if n == 0 || s.count == 0 {
			return "", false
		}
		s.count--
		if n == 1 {
			delete(s.users, user)
		} else {
			s.users[user] = n - 1
		}
		if s.count == 0 {
			r.armLocked(s)
		}
		return EventLeave, true
	}, user)
}

// update applies fn to session id under its path lock and emits the event
// fn names.
func (r *Registry) update(id string, fn func(*session) (string, bool), user string) (Session, error) {
	path, ok := r.pathOf(id)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	unlock := r.locks.Lock(path)
	defer unlock()

	// The session may have been torn down while we waited for the lock.
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	typ, changed := fn(s)
	view := s.view()
	if changed {
		if _, err := r.emit.Emit(events.DocStream(path), typ, map[string]any{
			"session_id":        id,
			"user_id":           user,
			"participant_count": s.count,
		}); err != nil {
			slog.Warn("emit session event", "type", typ, "path", path, "error", err)
		}
	}
	return view, nil
}

// armLocked (re)starts the idle timer. Bumping the generation invalidates
// any timer already in flight.
func (r *Registry) armLocked(s *session) {
	r.disarmLocked(s)
	gen := s.gen
	path, id := s.path, s.id
	s.timer = time.AfterFunc(r.grace, func() { r.expire(path, id, gen) })
}

func (r *Registry) disarmLocked(s *session) {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// expire tears the session down if nothing touched it since the timer
// with generation gen was armed.
func (r *Registry) expire(path, id string, gen uint64) {
	unlock := r.locks.Lock(path)
	defer unlock()

	s := r.lookupPath(path)
	if s == nil || s.id != id || s.gen != gen || s.count > 0 || s.inUse > 0 {
		return
	}
	r.teardownLocked(s)
	slog.Debug("session expired", "path", path, "session_id", id)
}

func (r *Registry) teardownLocked(s *session) {
	r.mu.Lock()
	delete(r.byPath, s.path)
	delete(r.byID, s.id)
	r.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.stopWatch()
	if err := r.docs.Close(s.handle); err != nil {
		slog.Warn("close session handle", "path", s.path, "error", err)
	}
	if _, err := r.emit.Emit(events.DocStream(s.path), EventClosed, map[string]any{"session_id": s.id}); err != nil {
		slog.Warn("emit session event", "type", EventClosed, "path", s.path, "error", err)
	}
}

// watch forwards engine updates that did not come through the session's
// own handle as external updates on the resource's stream.
func (r *Registry) watch(s *session) func() {
	updates, cancel := r.docs.Subscribe(s.handle)
	own := s.handle.ID()
	go func() {
		for u := range updates {
			if u.Origin == own {
				continue
			}
			if _, err := r.emit.Emit(events.DocStream(u.Path), EventExternal, map[string]any{
				"path":    u.Path,
				"op":      u.Op.Type,
				"summary": u.Op.Summary(),
				"length":  u.Length,
			}); err != nil {
				slog.Warn("emit external update", "path", u.Path, "error", err)
			}
		}
	}()
	return cancel
}

// Session returns the session with the given id.
func (r *Registry) Session(id string) (Session, error) {
	path, ok := r.pathOf(id)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	unlock := r.locks.Lock(path)
	defer unlock()
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.view(), nil
}

// List returns the live sessions whose path passes filter (a glob or a
// prefix, empty for all), ordered by path.
func (r *Registry) List(filter string) ([]Session, error) {
	r.mu.RLock()
	paths := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		paths = append(paths, p)
	}
	r.mu.RUnlock()
	sort.Strings(paths)

	out := []Session{}
	for _, p := range paths {
		ok, err := glob.Filter(filter, p)
		if err != nil {
			return nil, fmt.Errorf("session filter %q: %w", filter, err)
		}
		if !ok {
			continue
		}
		unlock := r.locks.Lock(p)
		if s := r.lookupPath(p); s != nil {
			out = append(out, s.view())
		}
		unlock()
	}
	return out, nil
}

// Close tears down every session. Later calls to GetOrCreate fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	paths := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		paths = append(paths, p)
	}
	r.mu.Unlock()

	for _, p := range paths {
		unlock := r.locks.Lock(p)
		if s := r.lookupPath(p); s != nil {
			r.teardownLocked(s)
		}
		unlock()
	}
}
