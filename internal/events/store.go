// Package events keeps a bounded, resumable log of state-change events per
// stream.
//
// Each stream retains at most Capacity events; older ones are evicted FIFO.
// Event ids are ULIDs issued in strictly increasing order across the whole
// store, so an id is both globally unique and a resume cursor: replaying
// after id X yields every retained event of the stream with id > X. A
// cursor that falls behind the retention window fails with ReplayGapError
// instead of silently skipping events.
package events

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Defaults for NewStore options.
const (
	DefaultCapacity   = 100
	DefaultMaxStreams = 1000
	DefaultMaxAge     = time.Hour
)

// AwarenessStream carries presence events that are not tied to a document.
const AwarenessStream = "awareness"

// DocStream names the stream carrying every event about one resource.
func DocStream(path string) string {
	return "doc:" + path
}

// PathOf reverses DocStream. The second result is false for other streams.
func PathOf(stream string) (string, bool) {
	return strings.CutPrefix(stream, "doc:")
}

var (
	// ErrReplayGap matches every *ReplayGapError.
	ErrReplayGap = errors.New("replay gap: events after the cursor are no longer retained")
	// ErrInvalidCursor is returned for malformed event ids.
	ErrInvalidCursor = errors.New("invalid event id")
)

// ReplayGapError reports that a resume cursor predates the retention window.
// The caller must resynchronise from a full snapshot.
type ReplayGapError struct {
	Stream string
	After  string // cursor supplied by the caller
	Oldest string // oldest id still retained, empty if none
}

func (e *ReplayGapError) Error() string {
	return fmt.Sprintf("replay gap on %s: %s is older than retained events (oldest %q)", e.Stream, e.After, e.Oldest)
}

// Is makes errors.Is(err, ErrReplayGap) true.
func (e *ReplayGapError) Is(target error) bool { return target == ErrReplayGap }

// Event is one entry in a stream. Payload is stored encoded so events can be
// shared between goroutines and relayed without copying.
type Event struct {
	ID      string          `json:"event_id"`
	Stream  string          `json:"stream_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Time    time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	Capacity   int
	MaxStreams int
	MaxAge     time.Duration
}

// Store is the event log. The zero value is not usable; call NewStore.
type Store struct {
	capacity   int
	maxStreams int
	maxAge     time.Duration
	now        func() time.Time

	mu      sync.RWMutex // guards streams and hooks; taken before any stream lock
	streams map[string]*stream
	hooks   []func(Event)

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
	lastMs  uint64
}

// NewStore returns an empty store.
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = DefaultMaxStreams
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return &Store{
		capacity:   opts.Capacity,
		maxStreams: opts.MaxStreams,
		maxAge:     opts.MaxAge,
		now:        time.Now,
		streams:    make(map[string]*stream),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// OnAppend registers fn to run after every append, in append order for a
// given stream. fn runs under the stream lock and must not block.
func (s *Store) OnAppend(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// nextID issues the next ULID. The millisecond component never goes
// backwards, so ids stay ordered even if the wall clock does.
func (s *Store) nextID(t time.Time) (ulid.ULID, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	ms := ulid.Timestamp(t)
	if ms < s.lastMs {
		ms = s.lastMs
	}
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("issue event id: %w", err)
	}
	s.lastMs = ms
	return id, nil
}

// stream returns the named stream, creating it (and evicting the least
// recently active unsubscribed stream when over MaxStreams) if create is
// set. When every stream has subscribers the limit is exceeded instead.
func (s *Store) stream(name string, create bool) *stream {
	s.mu.RLock()
	st, ok := s.streams[name]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[name]; ok {
		return st
	}
	if len(s.streams) >= s.maxStreams {
		s.evictOldestLocked()
	}
	now := s.now()
	st = newStream(name, s.capacity, now)
	s.streams[name] = st
	return st
}

func (s *Store) evictOldestLocked() {
	var victim *stream
	var victimSeen time.Time
	for _, st := range s.streams {
		if st.subscribed() {
			continue
		}
		seen := st.lastActivity()
		if victim == nil || seen.Before(victimSeen) {
			victim, victimSeen = st, seen
		}
	}
	if victim != nil {
		delete(s.streams, victim.name)
		victim.close()
	}
}

// Append adds an event to stream and returns it.
func (s *Store) Append(streamID, typ string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	st := s.stream(streamID, true)

	s.mu.RLock()
	hooks := s.hooks
	s.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	now := s.now()
	id, err := s.nextID(now)
	if err != nil {
		return Event{}, err
	}
	e := Event{ID: id.String(), Stream: streamID, Type: typ, Payload: data, Time: now.UTC()}
	st.push(e, id, now)
	for _, fn := range hooks {
		fn(e)
	}
	return e, nil
}

// Emit appends and returns only the event id. It lets the store satisfy
// the small emitter interfaces declared by its producers.
func (s *Store) Emit(streamID, typ string, payload any) (string, error) {
	e, err := s.Append(streamID, typ, payload)
	return e.ID, err
}

// Replay returns the retained events of stream with id > after, in order.
// An empty cursor replays everything retained. The sequence is drawn from a
// snapshot taken under the stream lock, so it never observes a partial
// append and iterating it twice yields the same events.
func (s *Store) Replay(streamID, after string) (iter.Seq[Event], error) {
	events, err := s.since(streamID, after)
	if err != nil {
		return nil, err
	}
	return func(yield func(Event) bool) {
		for _, e := range events {
			if !yield(e) {
				return
			}
		}
	}, nil
}

// Since is Replay as a slice, truncated to max events when max > 0. The
// second result reports whether more events were available.
func (s *Store) Since(streamID, after string, max int) ([]Event, bool, error) {
	events, err := s.since(streamID, after)
	if err != nil {
		return nil, false, err
	}
	if max > 0 && len(events) > max {
		return events[:max], true, nil
	}
	return events, false, nil
}

func (s *Store) since(streamID, after string) ([]Event, error) {
	cursor, err := parseCursor(after)
	if err != nil {
		return nil, err
	}
	st := s.stream(streamID, false)
	if st == nil {
		if after != "" {
			return nil, &ReplayGapError{Stream: streamID, After: after}
		}
		return nil, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.after(cursor, after)
}

// Last returns the id of the newest event in stream, or "".
func (s *Store) Last(streamID string) string {
	st := s.stream(streamID, false)
	if st == nil {
		return ""
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.count == 0 {
		return ""
	}
	return st.at(st.count - 1).ID
}

// Subscription delivers live events for one stream.
type Subscription struct {
	// Backlog holds the events replayed by SubscribeFrom.
	Backlog []Event
	// C receives live events. It is closed when the subscription is
	// cancelled, when the subscriber falls more than its buffer behind, or
	// when the stream is evicted; resume with the last id received.
	C      <-chan Event
	cancel func()
}

// Close stops delivery.
func (sub *Subscription) Close() { sub.cancel() }

// Subscribe delivers events appended to stream from now on.
func (s *Store) Subscribe(streamID string, buffer int) *Subscription {
	sub, _ := s.SubscribeFrom(streamID, "", buffer) // an empty cursor cannot fail
	return sub
}

// SubscribeFrom replays the events after cursor and attaches a live
// subscriber in the same critical section, so nothing falls between the
// backlog and the first live event.
func (s *Store) SubscribeFrom(streamID, after string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = s.capacity
	}
	cursor, err := parseCursor(after)
	if err != nil {
		return nil, err
	}
	st := s.stream(streamID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	var backlog []Event
	if after != "" {
		if backlog, err = st.after(cursor, after); err != nil {
			return nil, err
		}
	}
	ch := make(chan Event, buffer)
	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch

	var once sync.Once
	return &Subscription{
		Backlog: backlog,
		C:       ch,
		cancel: func() {
			once.Do(func() {
				st.mu.Lock()
				defer st.mu.Unlock()
				st.dropSub(id)
			})
		},
	}, nil
}

// Prune drops streams idle for longer than maxAge (the store default when
// maxAge <= 0) and returns how many were removed. Streams with live
// subscribers are kept however long they have been idle.
func (s *Store) Prune(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = s.maxAge
	}
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name, st := range s.streams {
		if st.lastActivity().Before(cutoff) && !st.subscribed() {
			delete(s.streams, name)
			st.close()
			n++
		}
	}
	return n
}

// StreamStats describes one stream.
type StreamStats struct {
	Stream       string    `json:"stream_id"`
	Retained     int       `json:"retained"`
	Total        uint64    `json:"total"`
	Evicted      uint64    `json:"evicted"`
	Subscribers  int       `json:"subscribers"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Oldest       string    `json:"oldest_event_id,omitempty"`
	Newest       string    `json:"newest_event_id,omitempty"`
}

// Stats summarises the store.
type Stats struct {
	Streams    int           `json:"streams"`
	Events     int           `json:"events"`
	Capacity   int           `json:"capacity"`
	MaxStreams int           `json:"max_streams"`
	PerStream  []StreamStats `json:"per_stream"`
}

// Stats reports retention for every stream, ordered by stream id.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	list := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		list = append(list, st)
	}
	s.mu.RUnlock()

	out := Stats{Capacity: s.capacity, MaxStreams: s.maxStreams}
	for _, st := range list {
		ss := st.stats()
		out.Streams++
		out.Events += ss.Retained
		out.PerStream = append(out.PerStream, ss)
	}
	sort.Slice(out.PerStream, func(i, j int) bool { return out.PerStream[i].Stream < out.PerStream[j].Stream })
	return out
}

func parseCursor(after string) (ulid.ULID, error) {
	if after == "" {
		return ulid.ULID{}, nil
	}
	id, err := ulid.ParseStrict(after)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: %q", ErrInvalidCursor, after)
	}
	return id, nil
}
