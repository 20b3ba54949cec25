// Package document adapts the engine for the collaboration layer.
//
// The Adapter is the only component that calls the engine. It turns an
// ordered batch of operations into sequential engine commits, records one
// version per commit and emits one document.op event per commit, all inside
// a per-path critical section. Nothing else writes to a resource, so the
// state each operation is validated against is exactly the state the
// previous one left behind.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/keylock"
	"github.com/jpl-au/collab/internal/store"
)

// DefaultAuthor is recorded when a caller supplies no author.
const DefaultAuthor = "unknown"

// Event types emitted by the adapter.
const (
	EventOp = "document.op"
)

var (
	// ErrInvalidRange is returned when an operation addresses a position,
	// range or cell the current content does not have, or its expected
	// text does not match.
	ErrInvalidRange = errors.New("invalid range")
	// ErrPartialBatch is returned when some operations of a batch failed.
	ErrPartialBatch = errors.New("partial batch failure")
	// ErrVersionNotFound is returned for unknown version ids.
	ErrVersionNotFound = errors.New("version not found")
	// ErrUnrecorded is returned when an operation reached the engine but
	// its version record could not be written.
	ErrUnrecorded = errors.New("history unavailable")
)

// Emitter publishes events. *events.Store satisfies it.
type Emitter interface {
	Emit(stream, typ string, payload any) (string, error)
	Last(stream string) string
}

// Adapter mediates every engine interaction.
type Adapter struct {
	engine engine.Engine
	log    store.VersionLog
	emit   Emitter
	locks  keylock.Map
}

// New returns an Adapter over eng that records history in log and events
// through emit.
func New(eng engine.Engine, log store.VersionLog, emit Emitter) *Adapter {
	return &Adapter{engine: eng, log: log, emit: emit}
}

// Open binds a handle to an existing resource.
func (a *Adapter) Open(ctx context.Context, path string, kind engine.Kind) (*engine.Handle, error) {
	h, err := a.engine.Open(ctx, path, kind)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return h, nil
}

// Create makes a new resource seeded with c and records its first version.
func (a *Adapter) Create(ctx context.Context, path string, c engine.Content, author, summary string) (*engine.Handle, error) {
	unlock := a.locks.Lock(path)
	defer unlock()

	h, err := a.engine.Create(ctx, path, c)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if summary == "" {
		summary = "create"
	}
	if _, err := a.log.AppendVersion(context.WithoutCancel(ctx), store.NewVersion{
		Path:    path,
		Kind:    string(c.Kind),
		Summary: summary,
		Author:  authorOr(author),
		Content: c.String(),
	}); err != nil {
		a.engine.Close(h)
		return nil, err
	}
	return h, nil
}

// Close releases a handle.
func (a *Adapter) Close(h *engine.Handle) error {
	return a.engine.Close(h)
}

// Subscribe forwards engine updates for h's resource.
func (a *Adapter) Subscribe(h *engine.Handle) (<-chan engine.Update, func()) {
	return a.engine.Subscribe(h)
}

// List enumerates resources of kind under prefix.
func (a *Adapter) List(ctx context.Context, kind engine.Kind, prefix string) ([]engine.Entry, error) {
	return a.engine.List(ctx, kind, prefix)
}

// Snapshot returns the current content of h's resource.
func (a *Adapter) Snapshot(ctx context.Context, h *engine.Handle) (engine.Content, error) {
	return a.engine.Snapshot(ctx, h)
}

// SnapshotAt returns the content together with the id of the newest event
// in the resource's stream. Both are read under the path lock, so the
// snapshot reflects exactly the operations up to and including that event.
func (a *Adapter) SnapshotAt(ctx context.Context, h *engine.Handle) (engine.Content, string, error) {
	unlock := a.locks.Lock(h.Path())
	defer unlock()

	c, err := a.engine.Snapshot(ctx, h)
	if err != nil {
		return engine.Content{}, "", err
	}
	return c, a.emit.Last(streamOf(h.Path())), nil
}

func authorOr(author string) string {
	if author == "" {
		return DefaultAuthor
	}
	return author
}
