// Package broadcast relays events to Redis pub/sub so processes other than
// the server can follow them: `collab tail`, dashboards, other instances.
//
// The relay is fed from the event store's append hook, which runs under a
// stream lock, so Enqueue never blocks: events go onto a bounded queue and
// Run publishes them in order. A full queue drops events and counts them.
// Delivery is at most once, like Redis pub/sub itself; consumers that need
// every event resume from the event store by id.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jpl-au/collab/internal/events"
	"github.com/redis/go-redis/v9"
)

// Defaults for NewRelay.
const (
	DefaultPrefix = "collab"
	DefaultBuffer = 1024
)

// Channel names the pub/sub channel for stream. stream may be a
// PSUBSCRIBE pattern.
func Channel(prefix, stream string) string {
	return prefix + ":events:" + stream
}

// ErrNotConfigured is returned by commands that need a relay when no
// Redis address is set.
var ErrNotConfigured = errors.New("redis relay not configured (set redis.addr)")

// Relay publishes events to Redis.
type Relay struct {
	rdb     *redis.Client
	prefix  string
	queue   chan events.Event
	dropped atomic.Uint64
}

// NewRelay returns a relay for the Redis server described by opts.
func NewRelay(opts *redis.Options, prefix string, buffer int) *Relay {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Relay{
		rdb:    redis.NewClient(opts),
		prefix: prefix,
		queue:  make(chan events.Event, buffer),
	}
}

// Ping verifies Redis connectivity.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.rdb.Close()
}

// Enqueue queues e for publishing without blocking.
func (r *Relay) Enqueue(e events.Event) {
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Run publishes queued events until ctx is cancelled. Publish failures are
// logged and the event is dropped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-r.queue:
			if err := r.publish(ctx, e); err != nil && ctx.Err() == nil {
				r.dropped.Add(1)
				slog.Warn("relay event", "stream", e.Stream, "event", e.ID, "error", err)
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.rdb.Publish(ctx, Channel(r.prefix, e.Stream), data).Err()
}

// Subscription delivers relayed events.
type Subscription struct {
	Events <-chan events.Event
	Errors <-chan error
	cancel context.CancelFunc
}

// Close stops delivery.
func (s *Subscription) Close() { s.cancel() }

// Subscribe follows the streams matching pattern ("*" for all). It returns
// once Redis has confirmed the subscription.
func (r *Relay) Subscribe(ctx context.Context, pattern string) (*Subscription, error) {
	pubsub := r.rdb.PSubscribe(ctx, Channel(r.prefix, pattern))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	eventsCh := make(chan events.Event, 16)
	errorsCh := make(chan error, 4)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(eventsCh)
		defer close(errorsCh)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e events.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					select {
					case errorsCh <- fmt.Errorf("decode event from %s: %w", msg.Channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case eventsCh <- e:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{Events: eventsCh, Errors: errorsCh, cancel: cancel}, nil
}
