// local.go implements Engine over a directory of files.
//
// Local keeps one in-memory replica per open resource and writes the file
// back after every operation, so Apply returns only once the change is on
// disk. Handles opened on the same path share the replica; subscribers see
// every update regardless of which handle applied it.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// subscriberBuffer bounds each subscriber's queue. Slow subscribers lose
// updates rather than stalling writers.
const subscriberBuffer = 64

// Local is a filesystem-backed reference engine.
type Local struct {
	root   string
	nextID atomic.Uint64

	mu      sync.Mutex
	closed  bool
	docs    map[string]*replica
	handles map[uint64]string
}

type replica struct {
	mu      sync.Mutex
	file    string
	content Content
	refs    int
	subs    map[uint64]chan Update
}

var _ Engine = (*Local)(nil)

// NewLocal serves the resources under root, which must be a directory.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: root %s: %v", ErrUnavailable, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", ErrUnavailable, abs)
	}
	return &Local{
		root:    abs,
		docs:    make(map[string]*replica),
		handles: make(map[uint64]string),
	}, nil
}

// Root returns the absolute directory the engine serves.
func (e *Local) Root() string { return e.root }

// file maps a resource path to its location under root, refusing paths
// that would escape it.
func (e *Local) file(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return filepath.Join(e.root, clean), nil
}

// Open implements Engine.
func (e *Local) Open(ctx context.Context, path string, kind Kind) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := e.file(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrUnavailable
	}

	r, ok := e.docs[path]
	if !ok {
		data, err := os.ReadFile(file)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
		}
		c, err := Decode(kind, data)
		if err != nil {
			return nil, err
		}
		r = &replica{file: file, content: c, subs: make(map[uint64]chan Update)}
		e.docs[path] = r
	} else if r.content.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s", ErrKindMismatch, path, r.content.Kind)
	}
	r.refs++

	h := &Handle{id: e.nextID.Add(1), path: path, kind: kind}
	e.handles[h.id] = path
	return h, nil
}

// Create implements Engine.
func (e *Local) Create(ctx context.Context, path string, c Content) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := e.file(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(file); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}
	data, err := c.Encode()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := writeFile(file, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e.Open(ctx, path, c.Kind)
}

// replica returns the live replica behind h.
func (e *Local) replica(h *Handle) (*replica, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrUnavailable
	}
	path, ok := e.handles[h.id]
	if !ok {
		return nil, fmt.Errorf("%w: handle for %s is closed", ErrUnavailable, h.path)
	}
	return e.docs[path], nil
}

// Apply implements Engine.
func (e *Local) Apply(ctx context.Context, h *Handle, op Op) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	r, err := e.replica(h)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := Apply(r.content, op)
	if err != nil {
		return Result{}, err
	}
	data, err := next.Encode()
	if err != nil {
		return Result{}, err
	}
	if err := writeFile(r.file, data); err != nil {
		return Result{}, fmt.Errorf("%w: write %s: %v", ErrUnavailable, h.path, err)
	}
	r.content = next

	u := Update{Path: h.path, Op: op, Length: next.Len(), Origin: h.id}
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
		}
	}
	return Result{Length: next.Len()}, nil
}

// Snapshot implements Engine.
func (e *Local) Snapshot(ctx context.Context, h *Handle) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	r, err := e.replica(h)
	if err != nil {
		return Content{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content.Clone(), nil
}

// Subscribe implements Engine. The channel is closed when cancel is called
// or the last handle on the resource is closed.
func (e *Local) Subscribe(h *Handle) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	r, err := e.replica(h)
	if err != nil {
		close(ch)
		return ch, func() {}
	}
	id := e.nextID.Add(1)
	r.mu.Lock()
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}
}

// Close implements Engine.
func (e *Local) Close(h *Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	path, ok := e.handles[h.id]
	if !ok {
		return nil
	}
	delete(e.handles, h.id)
	r := e.docs[path]
	r.refs--
	if r.refs > 0 {
		return nil
	}
	delete(e.docs, path)
	r.mu.Lock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.mu.Unlock()
	return nil
}

// Shutdown closes every handle; later calls fail with ErrUnavailable.
func (e *Local) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for path, r := range e.docs {
		r.mu.Lock()
		for id, ch := range r.subs {
			delete(r.subs, id)
			close(ch)
		}
		r.mu.Unlock()
		delete(e.docs, path)
	}
	clear(e.handles)
}

// List implements Engine. Hidden files and directories are skipped.
func (e *Local) List(ctx context.Context, kind Kind, prefix string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(e.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != e.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if KindOf(rel) != kind || !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:     rel,
			Kind:     kind,
			Type:     FileType(rel),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, e.root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// writeFile replaces file atomically via a temp file and rename.
func writeFile(file string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), file)
}
