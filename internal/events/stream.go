// stream.go holds the per-stream ring buffer. Every method expects the
// caller to hold st.mu.

package events

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type stream struct {
	name string

	mu      sync.Mutex
	buf     []Event
	ids     []ulid.ULID
	start   int // index of the oldest retained event
	count   int
	total   uint64
	evicted uint64
	// horizon is the newest id the stream cannot account for: the last
	// evicted event, or the instant before the stream was created. Cursors
	// older than it cannot be served.
	horizon ulid.ULID

	created time.Time
	seen    time.Time

	subs    map[uint64]chan Event
	nextSub uint64
	closed  bool
}

func newStream(name string, capacity int, now time.Time) *stream {
	var horizon ulid.ULID
	_ = horizon.SetTime(ulid.Timestamp(now) - 1)
	return &stream{
		horizon: horizon,
		name:    name,
		buf:     make([]Event, capacity),
		ids:     make([]ulid.ULID, capacity),
		created: now,
		seen:    now,
		subs:    make(map[uint64]chan Event),
	}
}

// at returns the i-th retained event, oldest first.
func (st *stream) at(i int) Event {
	return st.buf[(st.start+i)%len(st.buf)]
}

func (st *stream) idAt(i int) ulid.ULID {
	return st.ids[(st.start+i)%len(st.ids)]
}

func (st *stream) push(e Event, id ulid.ULID, now time.Time) {
	if st.count == len(st.buf) {
		st.horizon = st.ids[st.start]
		st.buf[st.start] = Event{}
		st.start = (st.start + 1) % len(st.buf)
		st.count--
		st.evicted++
	}
	slot := (st.start + st.count) % len(st.buf)
	st.buf[slot] = e
	st.ids[slot] = id
	st.count++
	st.total++
	st.seen = now

	for sid, ch := range st.subs {
		select {
		case ch <- e:
		default:
			// Lagging subscriber: disconnect it so it resumes by id
			// rather than silently missing events.
			st.dropSub(sid)
		}
	}
}

// after returns the retained events with id > cursor.
func (st *stream) after(cursor ulid.ULID, raw string) ([]Event, error) {
	if raw != "" && cursor.Compare(st.horizon) < 0 {
		oldest := ""
		if st.count > 0 {
			oldest = st.at(0).ID
		}
		return nil, &ReplayGapError{Stream: st.name, After: raw, Oldest: oldest}
	}
	// Binary search for the first retained id greater than the cursor.
	lo, hi := 0, st.count
	for lo < hi {
		mid := (lo + hi) / 2
		if st.idAt(mid).Compare(cursor) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == st.count {
		return nil, nil
	}
	out := make([]Event, 0, st.count-lo)
	for i := lo; i < st.count; i++ {
		out = append(out, st.at(i))
	}
	return out, nil
}

func (st *stream) dropSub(id uint64) {
	if ch, ok := st.subs[id]; ok {
		delete(st.subs, id)
		close(ch)
	}
}

func (st *stream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for id := range st.subs {
		st.dropSub(id)
	}
}

func (st *stream) lastActivity() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seen
}

// subscribed reports whether anyone is attached. Such a stream is never
// pruned or evicted: its subscribers would lose their place in it.
func (st *stream) subscribed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs) > 0
}

func (st *stream) stats() StreamStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	ss := StreamStats{
		Stream:       st.name,
		Retained:     st.count,
		Total:        st.total,
		Evicted:      st.evicted,
		Subscribers:  len(st.subs),
		CreatedAt:    st.created.UTC(),
		LastActivity: st.seen.UTC(),
	}
	if st.count > 0 {
		ss.Oldest = st.at(0).ID
		ss.Newest = st.at(st.count - 1).ID
	}
	return ss
}
