// Package engine defines the contract with the document engine that owns
// live document state, and ships a filesystem-backed reference
// implementation.
//
// Everything above this package treats the engine as an opaque capability:
// open a resource, apply primitive operations, take snapshots and subscribe
// to updates. Conflict resolution between replicas is the engine's business.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// Kind distinguishes notebooks from plain documents.
type Kind string

const (
	KindDocument Kind = "document"
	KindNotebook Kind = "notebook"
)

// KindOf derives the resource kind from its path.
func KindOf(path string) Kind {
	if strings.EqualFold(filepath.Ext(path), ".ipynb") {
		return KindNotebook
	}
	return KindDocument
}

// FileType reports the finer-grained type shown to clients:
// "notebook", "markdown" or "text".
func FileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ipynb":
		return "notebook"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}

var (
	// ErrNotFound is returned when the resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrExists is returned by Create when the resource already exists.
	ErrExists = errors.New("resource already exists")
	// ErrBusy is returned when the engine reports an irrecoverable lock
	// held by another party.
	ErrBusy = errors.New("resource busy elsewhere")
	// ErrUnavailable is returned when the engine cannot be reached, or the
	// handle is no longer live.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrKindMismatch is returned when a resource is opened as the wrong
	// kind or receives an operation for the other kind.
	ErrKindMismatch = errors.New("resource kind mismatch")
	// ErrBadOp is returned when an operation cannot be applied to the
	// current content.
	ErrBadOp = errors.New("invalid operation")
)

// Handle is a live binding to one engine resource.
type Handle struct {
	id   uint64
	path string
	kind Kind
}

// ID identifies the handle; updates carry it as their origin.
func (h *Handle) ID() uint64 { return h.id }

// Path returns the resource path the handle is bound to.
func (h *Handle) Path() string { return h.path }

// Kind returns the resource kind.
func (h *Handle) Kind() Kind { return h.kind }

// Result reports the outcome of one applied operation.
type Result struct {
	Length int // length after the operation (code points or cells)
}

// Update is delivered to subscribers after every applied operation.
type Update struct {
	Path   string
	Op     Op
	Length int
	Origin uint64 // ID of the handle that applied the operation
}

// Entry describes a resource found by List.
type Entry struct {
	Path     string    `json:"path"`
	Kind     Kind      `json:"kind"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Engine is the document engine consumed by the collaboration layer.
type Engine interface {
	// Open binds a handle to an existing resource.
	Open(ctx context.Context, path string, kind Kind) (*Handle, error)
	// Create makes a new resource seeded with content and opens it.
	Create(ctx context.Context, path string, c Content) (*Handle, error)
	// Apply commits one operation. It returns only after the operation is
	// durable.
	Apply(ctx context.Context, h *Handle, op Op) (Result, error)
	// Snapshot returns a copy of the current content.
	Snapshot(ctx context.Context, h *Handle) (Content, error)
	// Subscribe delivers updates for the handle's resource until cancelled.
	Subscribe(h *Handle) (<-chan Update, func())
	// Close releases the handle.
	Close(h *Handle) error
	// List enumerates resources of a kind under a path prefix.
	List(ctx context.Context, kind Kind, prefix string) ([]Entry, error)
}
