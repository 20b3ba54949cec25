// activity.go keeps recent activity in bounded rings: one global scope and
// one per document.

package presence

import (
	"sync"
	"time"

	"github.com/jpl-au/collab/internal/events"
)

// globalScope collects every activity regardless of document.
const globalScope = ""

// Activity is one recorded action.
type Activity struct {
	EventID      string         `json:"event_id,omitempty"`
	UserID       string         `json:"user_id"`
	Type         string         `json:"activity_type"`
	Description  string         `json:"description"`
	DocumentPath string         `json:"document_path,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

type ring struct {
	mu    sync.Mutex
	buf   []Activity
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Activity, capacity)}
}

func (r *ring) push(a Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = a
		r.count++
		return
	}
	r.buf[r.start] = a
	r.start = (r.start + 1) % len(r.buf)
}

// newest returns up to limit entries, newest first.
func (r *ring) newest(limit int) []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Activity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(r.start+r.count-1-i)%len(r.buf)])
	}
	return out
}

func (t *Tracker) scope(name string) *ring {
	t.scopeMu.RLock()
	r, ok := t.scopes[name]
	t.scopeMu.RUnlock()
	if ok {
		return r
	}
	t.scopeMu.Lock()
	defer t.scopeMu.Unlock()
	if r, ok := t.scopes[name]; ok {
		return r
	}
	r = newRing(t.capacity)
	t.scopes[name] = r
	return r
}

// RecordActivity stores an activity and broadcasts it on the document's
// stream, or the awareness stream when doc is empty. The returned entry
// carries the event id.
func (t *Tracker) RecordActivity(userID, typ, description, doc string, metadata map[string]any) (Activity, error) {
	now := t.now()
	a := Activity{
		UserID:       userID,
		Type:         typ,
		Description:  description,
		DocumentPath: doc,
		Metadata:     metadata,
		Timestamp:    now.UTC(),
	}
	stream := events.AwarenessStream
	if doc != "" {
		stream = events.DocStream(doc)
	}
	id, err := t.emit.Emit(stream, EventActivity, a)
	if err != nil {
		return a, err
	}
	a.EventID = id

	t.Touch(userID, doc)
	t.scope(globalScope).push(a)
	if doc != "" {
		t.scope(doc).push(a)
	}
	return a, nil
}

// Activity returns up to limit recent activities, newest first, across all
// documents when doc is empty.
func (t *Tracker) Activity(doc string, limit int) []Activity {
	t.scopeMu.RLock()
	r, ok := t.scopes[doc]
	t.scopeMu.RUnlock()
	if !ok {
		return []Activity{}
	}
	return r.newest(limit)
}
