// Package presence tracks who is online, where their cursors are and what
// they have been doing.
//
// Records are held per user, each behind its own lock, so updates from
// different users never contend. Nothing runs on a timer: staleness is
// decided when a record is read. A user not seen for longer than the TTL is
// reported offline, dropped from Online and has their cursors hidden.
// Records idle for twice the TTL are swept on the next Online call.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpl-au/collab/internal/events"
)

// Defaults for Options.
const (
	DefaultTTL              = 5 * time.Minute
	DefaultActivityCapacity = 200
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// Event types emitted by the tracker.
const (
	EventPresence = "presence.update"
	EventCursor   = "cursor.update"
	EventActivity = "activity"
)

var (
	// ErrInvalidStatus is returned for statuses other than the four above.
	ErrInvalidStatus = errors.New("invalid presence status")
	// ErrInvalidCursor is returned for negative cursor positions or an
	// inverted selection.
	ErrInvalidCursor = errors.New("invalid cursor position")
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Emitter publishes events. *events.Store satisfies it.
type Emitter interface {
	Emit(stream, typ string, payload any) (string, error)
}

// Options configures a Tracker. Zero values select the defaults.
type Options struct {
	TTL              time.Duration
	ActivityCapacity int
	Now              func() time.Time
}

// Record is one user's presence.
type Record struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
	Documents []string  `json:"documents,omitempty"`
}

// Selection is a half-open character range.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Cursor is one user's position in one document.
type Cursor struct {
	UserID       string     `json:"user_id"`
	DocumentPath string     `json:"document_path"`
	Line         int        `json:"line"`
	Column       int        `json:"column"`
	Selection    *Selection `json:"selection,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type user struct {
	mu       sync.Mutex
	id       string
	status   string
	message  string
	lastSeen time.Time
	docs     map[string]time.Time
	cursors  map[string]Cursor
}

// Tracker holds presence, cursors and activity.
type Tracker struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time
	emit     Emitter

	mu        sync.RWMutex // guards users only; taken before a user lock
	users     map[string]*user
	lastSweep time.Time

	scopeMu sync.RWMutex
	scopes  map[string]*ring
}

// NewTracker returns an empty tracker that publishes through emit.
func NewTracker(emit Emitter, opts Options) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ActivityCapacity <= 0 {
		opts.ActivityCapacity = DefaultActivityCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		ttl:      opts.TTL,
		capacity: opts.ActivityCapacity,
		now:      opts.Now,
		emit:     emit,
		users:    make(map[string]*user),
		scopes:   make(map[string]*ring),
	}
}

// user returns the record for id, creating it when create is set.
func (t *Tracker) user(id string, create bool) *user {
	t.mu.RLock()
	u, ok := t.users[id]
	t.mu.RUnlock()
	if ok || !create {
		return u
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.users[id]; ok {
		return u
	}
	u = &user{id: id, status: StatusOnline, docs: make(map[string]time.Time), cursors: make(map[string]Cursor)}
	t.users[id] = u
	return u
}

func (t *Tracker) fresh(seen, now time.Time) bool {
	return now.Sub(seen) <= t.ttl
}

// Touch marks a user as seen, optionally in a document. The request façade
// calls it for every authenticated request.
func (t *Tracker) Touch(userID, doc string) {
	now := t.now()
	u := t.user(userID, true)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastSeen = now
	if doc != "" {
		u.docs[doc] = now
	}
}

// SetPresence sets a user's status and message and publishes the change.
func (t *Tracker) SetPresence(userID, status, message string) (Record, error) {
	if !ValidStatus(status) {
		return Record{}, fmt.Errorf("%w: %q (want online, away, busy or offline)", ErrInvalidStatus, status)
	}
	now := t.now()
	u := t.user(userID, true)
	u.mu.Lock()
	u.status = status
	u.message = message
	u.lastSeen = now
	rec := t.recordLocked(u, "", now)
	u.mu.Unlock()

	if _, err := t.emit.Emit(events.AwarenessStream, EventPresence, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// recordLocked renders u as seen at now, limited to doc when doc != "".
func (t *Tracker) recordLocked(u *user, doc string, now time.Time) Record {
	rec := Record{UserID: u.id, Status: u.status, Message: u.message, LastSeen: u.lastSeen}
	if !t.fresh(u.lastSeen, now) {
		rec.Status = StatusOffline
	}
	for d, seen := range u.docs {
		if t.fresh(seen, now) {
			rec.Documents = append(rec.Documents, d)
		}
	}
	sort.Strings(rec.Documents)
	if doc != "" {
		if seen, ok := u.docs[doc]; !ok || !t.fresh(seen, now) {
			rec.Status = StatusOffline
		}
	}
	return rec
}

// Presence returns a user's presence, in doc when doc != "". Unknown and
// stale users are offline.
func (t *Tracker) Presence(userID, doc string) Record {
	u := t.user(userID, false)
	if u == nil {
		return Record{UserID: userID, Status: StatusOffline}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return t.recordLocked(u, doc, t.now())
}

// Online lists users seen within the TTL, in doc when doc != "", ordered
// by user id. Users whose status is offline are excluded.
func (t *Tracker) Online(doc string) []Record {
	now := t.now()
	t.sweep(now)

	var out []Record
	for _, u := range t.snapshot() {
		u.mu.Lock()
		rec := t.recordLocked(u, doc, now)
		u.mu.Unlock()
		if rec.Status != StatusOffline {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) snapshot() []*user {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := make([]*user, 0, len(t.users))
	for _, u := range t.users {
		list = append(list, u)
	}
	return list
}

// sweep drops users idle for more than twice the TTL, at most once per TTL.
func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastSweep) < t.ttl {
		return
	}
	t.lastSweep = now
	for id, u := range t.users {
		u.mu.Lock()
		idle := now.Sub(u.lastSeen) > 2*t.ttl
		u.mu.Unlock()
		if idle {
			delete(t.users, id)
		}
	}
}

// UpdateCursor records a user's cursor in a document, replacing the
// previous one, and publishes it on the document's stream.
func (t *Tracker) UpdateCursor(userID, doc string, line, column int, sel *Selection) (Cursor, string, error) {
	if line < 0 || column < 0 {
		return Cursor{}, "", fmt.Errorf("%w: line %d, column %d", ErrInvalidCursor, line, column)
	}
	if sel != nil && (sel.Start < 0 || sel.End < sel.Start) {
		return Cursor{}, "", fmt.Errorf("%w: selection [%d,%d)", ErrInvalidCursor, sel.Start, sel.End)
	}
	now := t.now()
	c := Cursor{UserID: userID, DocumentPath: doc, Line: line, Column: column, Selection: sel, UpdatedAt: now.UTC()}

	u := t.user(userID, true)
	u.mu.Lock()
	u.lastSeen = now
	u.docs[doc] = now
	u.cursors[doc] = c
	u.mu.Unlock()

	id, err := t.emit.Emit(events.DocStream(doc), EventCursor, c)
	return c, id, err
}

// Cursors lists the fresh cursors in doc, ordered by user id.
func (t *Tracker) Cursors(doc string) []Cursor {
	now := t.now()
	var out []Cursor
	for _, u := range t.snapshot() {
		u.mu.Lock()
		c, ok := u.cursors[doc]
		live := ok && t.fresh(u.lastSeen, now) && u.status != StatusOffline
		u.mu.Unlock()
		if live {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
