// Package fork manages forks: independent copies of a document that can be
// edited in parallel and merged back.
//
// A fork remembers its merge ancestor, the source content as the fork last
// saw it. For a plain fork that is the snapshot taken at creation. A
// synchronised fork replays the source's operations as they happen and
// advances the ancestor with each one; operations that collide with the
// fork's own edits are skipped and recorded, never guessed at.
//
// Forks move created -> (synchronizing) -> merged | abandoned. Merged and
// abandoned are terminal.
package fork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/session"
	"github.com/jpl-au/collab/internal/store"
)

// Fork states.
const (
	StateCreated       = "created"
	StateSynchronizing = "synchronizing"
	StateMerged        = "merged"
	StateAbandoned     = "abandoned"
)

// Event types emitted by the manager.
const (
	EventCreated   = "fork.created"
	EventSkipped   = "fork.skipped"
	EventMerged    = "fork.merged"
	EventAbandoned = "fork.abandoned"
)

var (
	// ErrClosed is returned for operations on merged or abandoned forks.
	ErrClosed = errors.New("fork closed")
	// ErrNotFound is returned for unknown fork ids, or a fork that belongs
	// to another source.
	ErrNotFound = errors.New("fork not found")
	// ErrMergeConflict reports that a merge left changes unapplied.
	ErrMergeConflict = errors.New("merge conflict")
)

// Documents is the part of the document adapter the manager needs.
type Documents interface {
	Open(ctx context.Context, path string, kind engine.Kind) (*engine.Handle, error)
	Create(ctx context.Context, path string, c engine.Content, author, summary string) (*engine.Handle, error)
	Close(h *engine.Handle) error
	Snapshot(ctx context.Context, h *engine.Handle) (engine.Content, error)
	SnapshotAt(ctx context.Context, h *engine.Handle) (engine.Content, string, error)
	ApplyBatch(ctx context.Context, h *engine.Handle, ops []engine.Op, opts document.BatchOptions) (*document.BatchResult, error)
}

// Sessions lends out the canonical handle of a source resource.
type Sessions interface {
	With(ctx context.Context, path string, kind engine.Kind, fn func(h *engine.Handle) error) (session.Session, error)
}

// Events is the part of the event store the manager needs.
type Events interface {
	Emit(stream, typ string, payload any) (string, error)
	Subscribe(stream string, buffer int) *events.Subscription
	SubscribeFrom(stream, after string, buffer int) (*events.Subscription, error)
}

// Skip records a source operation that synchronisation did not replay.
type Skip struct {
	EventID string     `json:"event_id,omitempty"`
	Op      *engine.Op `json:"op,omitempty"`
	Reason  string     `json:"reason"`
	Time    time.Time  `json:"timestamp"`
}

// Fork is a point-in-time view of a fork.
type Fork struct {
	ID          string      `json:"fork_id"`
	SourcePath  string      `json:"source_path"`
	ForkPath    string      `json:"fork_path"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Synchronize bool        `json:"synchronize"`
	State       string      `json:"state"`
	Kind        engine.Kind `json:"kind"`
	Author      string      `json:"author,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	Skipped     []Skip      `json:"skipped"`
}

// Closed reports whether the fork is merged or abandoned.
func (f Fork) Closed() bool {
	return f.State == StateMerged || f.State == StateAbandoned
}

// Options configures Create.
type Options struct {
	Title       string
	Description string
	Synchronize bool
	Author      string
}

type fork struct {
	mu       sync.Mutex
	rec      Fork
	ancestor engine.Content
	handle   *engine.Handle

	// synchronisation; floor is the newest source event already reflected
	// in the ancestor
	contested contested
	floor     string
	sub       *events.Subscription
	done      chan struct{}
	stop      sync.Once
}

// Manager owns every fork.
type Manager struct {
	docs     Documents
	sessions Sessions
	events   Events
	store    store.ForkStore

	mu     sync.RWMutex
	forks  map[string]*fork
	byPath map[string]*fork

	wg sync.WaitGroup
}

// NewManager returns a manager with no forks; call Load to restore
// persisted ones.
func NewManager(docs Documents, sessions Sessions, ev Events, st store.ForkStore) *Manager {
	return &Manager{
		docs:     docs,
		sessions: sessions,
		events:   ev,
		store:    st,
		forks:    make(map[string]*fork),
		byPath:   make(map[string]*fork),
	}
}

// ForkPath names the resource of fork id of source p. The marker goes
// before the extension so the fork keeps its source's kind.
func ForkPath(p, id string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + ".fork-" + id + ext
}

// Create forks the resource at p.
func (m *Manager) Create(ctx context.Context, p string, opts Options) (Fork, error) {
	kind := engine.KindOf(p)
	id, err := store.NewID()
	if err != nil {
		return Fork{}, err
	}
	f := &fork{done: make(chan struct{})}

	// Subscribe before taking the snapshot so nothing appended in between
	// can be missed; events up to the snapshot's cursor are dropped later.
	if opts.Synchronize {
		f.sub = m.events.Subscribe(events.DocStream(p), 0)
	}

	var base engine.Content
	_, err = m.sessions.With(ctx, p, kind, func(h *engine.Handle) error {
		var err error
		base, f.floor, err = m.docs.SnapshotAt(ctx, h)
		return err
	})
	if err != nil {
		f.closeSub()
		return Fork{}, err
	}

	title := opts.Title
	if title == "" {
		title = "Fork of " + p
	}
	fp := ForkPath(p, id)
	h, err := m.docs.Create(ctx, fp, base, opts.Author, "fork of "+p)
	if err != nil {
		f.closeSub()
		return Fork{}, err
	}

	f.handle = h
	f.ancestor = base
	f.rec = Fork{
		ID:          id,
		SourcePath:  p,
		ForkPath:    fp,
		Title:       title,
		Description: opts.Description,
		Synchronize: opts.Synchronize,
		State:       StateCreated,
		Kind:        kind,
		Author:      opts.Author,
		CreatedAt:   time.Now().UTC(),
		Skipped:     []Skip{},
	}
	if opts.Synchronize {
		f.rec.State = StateSynchronizing
	}
	if err := m.save(ctx, f); err != nil {
		f.closeSub()
		m.docs.Close(h)
		return Fork{}, err
	}

	m.mu.Lock()
	m.forks[id] = f
	m.byPath[fp] = f
	m.mu.Unlock()

	m.emit(p, EventCreated, f.rec)
	if opts.Synchronize {
		m.wg.Add(1)
		go m.synchronize(f)
	}
	slog.Debug("fork created", "source", p, "fork", fp, "synchronize", opts.Synchronize)
	return f.rec, nil
}

// closeSub ends synchronisation. Safe to call more than once; callers
// must not hold f.mu.
func (f *fork) closeSub() {
	f.stop.Do(func() {
		close(f.done)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.sub != nil {
			f.sub.Close()
		}
	})
}

// view copies the record. Callers hold f.mu.
func (f *fork) view() Fork {
	v := f.rec
	v.Skipped = append([]Skip{}, f.rec.Skipped...)
	return v
}

// save persists f. Callers hold f.mu or own f exclusively.
func (m *Manager) save(ctx context.Context, f *fork) error {
	skipped, err := json.Marshal(f.rec.Skipped)
	if err != nil {
		return fmt.Errorf("encode skipped: %w", err)
	}
	cont, err := json.Marshal(f.contested)
	if err != nil {
		return fmt.Errorf("encode contested: %w", err)
	}
	rec := &store.Fork{
		ID:          f.rec.ID,
		SourcePath:  f.rec.SourcePath,
		ForkPath:    f.rec.ForkPath,
		Title:       f.rec.Title,
		Description: f.rec.Description,
		Synchronize: f.rec.Synchronize,
		State:       f.rec.State,
		Kind:        string(f.rec.Kind),
		Base:        f.ancestor.String(),
		Skipped:     skipped,
		Contested:   cont,
		Author:      f.rec.Author,
		CreatedAt:   f.rec.CreatedAt.UnixMilli(),
	}
	if f.rec.ClosedAt != nil {
		ms := f.rec.ClosedAt.UnixMilli()
		rec.ClosedAt = &ms
	}
	return m.store.SaveFork(context.WithoutCancel(ctx), rec)
}

func (m *Manager) emit(p, typ string, payload any) {
	if _, err := m.events.Emit(events.DocStream(p), typ, payload); err != nil {
		slog.Warn("emit fork event", "type", typ, "path", p, "error", err)
	}
}

// lookup returns fork id of source p.
func (m *Manager) lookup(p, id string) (*fork, error) {
	m.mu.RLock()
	f, ok := m.forks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.rec.SourcePath != p {
		return nil, fmt.Errorf("%w: %s is not a fork of %s", ErrNotFound, id, p)
	}
	return f, nil
}

// Get returns fork id of source p.
func (m *Manager) Get(p, id string) (Fork, error) {
	f, err := m.lookup(p, id)
	if err != nil {
		return Fork{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view(), nil
}

// List returns the forks of source p, oldest first.
func (m *Manager) List(p string) []Fork {
	m.mu.RLock()
	var list []*fork
	for _, f := range m.forks {
		if f.rec.SourcePath == p {
			list = append(list, f)
		}
	}
	m.mu.RUnlock()

	out := make([]Fork, 0, len(list))
	for _, f := range list {
		f.mu.Lock()
		out = append(out, f.view())
		f.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CheckOpen returns ErrClosed when p is the resource of a merged or
// abandoned fork. Other paths pass.
func (m *Manager) CheckOpen(p string) error {
	m.mu.RLock()
	f, ok := m.byPath[p]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec.Closed() {
		return fmt.Errorf("%w: %s was %s", ErrClosed, p, f.rec.State)
	}
	return nil
}

// Abandon closes fork id of source p without merging.
func (m *Manager) Abandon(ctx context.Context, p, id string) (Fork, error) {
	f, err := m.lookup(p, id)
	if err != nil {
		return Fork{}, err
	}
	f.closeSub()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec.Closed() {
		return Fork{}, fmt.Errorf("%w: %s was %s", ErrClosed, id, f.rec.State)
	}
	m.closeLocked(ctx, f, StateAbandoned)
	m.emit(p, EventAbandoned, f.rec)
	return f.view(), nil
}

// closeLocked moves f to a terminal state and releases its handle.
func (m *Manager) closeLocked(ctx context.Context, f *fork, state string) {
	now := time.Now().UTC()
	f.rec.State = state
	f.rec.ClosedAt = &now
	if err := m.save(ctx, f); err != nil {
		slog.Warn("save fork", "fork", f.rec.ID, "error", err)
	}
	if f.handle != nil {
		m.docs.Close(f.handle)
		f.handle = nil
	}
}

// Load restores persisted forks. Synchronisation of open forks is not
// resumed; that is recorded as a skip.
func (m *Manager) Load(ctx context.Context) error {
	recs, err := m.store.Forks(ctx, "", false)
	if err != nil {
		return err
	}
	for _, r := range recs {
		kind := engine.Kind(r.Kind)
		ancestor, err := engine.Decode(kind, []byte(r.Base))
		if err != nil {
			return fmt.Errorf("load fork %s: %w", r.ID, err)
		}
		f := &fork{ancestor: ancestor, done: make(chan struct{})}
		f.closeSub()
		f.rec = Fork{
			ID:          r.ID,
			SourcePath:  r.SourcePath,
			ForkPath:    r.ForkPath,
			Title:       r.Title,
			Description: r.Description,
			Synchronize: r.Synchronize,
			State:       r.State,
			Kind:        kind,
			Author:      r.Author,
			CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
			Skipped:     []Skip{},
		}
		if len(r.Skipped) > 0 {
			if err := json.Unmarshal(r.Skipped, &f.rec.Skipped); err != nil {
				return fmt.Errorf("load fork %s: %w", r.ID, err)
			}
		}
		if len(r.Contested) > 0 {
			if err := json.Unmarshal(r.Contested, &f.contested); err != nil {
				return fmt.Errorf("load fork %s: %w", r.ID, err)
			}
		}
		if r.ClosedAt != nil {
			t := time.UnixMilli(*r.ClosedAt).UTC()
			f.rec.ClosedAt = &t
		}
		if f.rec.State == StateSynchronizing {
			f.rec.State = StateCreated
			f.rec.Skipped = append(f.rec.Skipped, Skip{Reason: "synchronization not resumed after restart", Time: time.Now().UTC()})
			if err := m.save(ctx, f); err != nil {
				return err
			}
		}

		m.mu.Lock()
		m.forks[r.ID] = f
		m.byPath[r.ForkPath] = f
		m.mu.Unlock()
	}
	return nil
}

// handleLocked returns the fork's own handle, opening it after a restart.
func (m *Manager) handleLocked(ctx context.Context, f *fork) (*engine.Handle, error) {
	if f.handle != nil {
		return f.handle, nil
	}
	h, err := m.docs.Open(ctx, f.rec.ForkPath, f.rec.Kind)
	if err != nil {
		return nil, err
	}
	f.handle = h
	return h, nil
}

// Close stops synchronisation and releases every fork handle.
func (m *Manager) Close() {
	m.mu.RLock()
	list := make([]*fork, 0, len(m.forks))
	for _, f := range m.forks {
		list = append(list, f)
	}
	m.mu.RUnlock()

	for _, f := range list {
		f.closeSub()
	}
	m.wg.Wait()
	for _, f := range list {
		f.mu.Lock()
		if f.handle != nil {
			m.docs.Close(f.handle)
			f.handle = nil
		}
		f.mu.Unlock()
	}
}
