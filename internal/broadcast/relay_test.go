package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jpl-au/collab/internal/broadcast"
	"github.com/jpl-au/collab/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRelay(t *testing.T, buffer int) (*broadcast.Relay, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := broadcast.NewRelay(&redis.Options{Addr: mr.Addr()}, "test", buffer)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func receive(t *testing.T, sub *broadcast.Subscription) events.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events:
		require.True(t, ok, "subscription closed")
		return e
	case err := <-sub.Errors:
		t.Fatalf("subscription error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no event relayed")
	}
	return events.Event{}
}

func TestRelayPublishesAppendedEvents(t *testing.T) {
	r, _ := setupRelay(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Ping(ctx))
	go r.Run(ctx)

	sub, err := r.Subscribe(ctx, "doc:*")
	require.NoError(t, err)
	defer sub.Close()

	store := events.NewStore(events.Options{})
	store.OnAppend(r.Enqueue)

	_, err = store.Append(events.AwarenessStream, "presence.update", map[string]string{"user_id": "alice"})
	require.NoError(t, err)
	first, err := store.Append(events.DocStream("a.txt"), "document.op", map[string]int{"seq": 1})
	require.NoError(t, err)
	second, err := store.Append(events.DocStream("b.txt"), "document.op", map[string]int{"seq": 1})
	require.NoError(t, err)

	got := receive(t, sub)
	assert.Equal(t, first.ID, got.ID, "awareness events do not match doc:*")
	assert.Equal(t, "doc:a.txt", got.Stream)
	assert.JSONEq(t, `{"seq":1}`, string(got.Payload))
	assert.Equal(t, second.ID, receive(t, sub).ID)
	assert.Zero(t, r.Dropped())
}

func TestEnqueueNeverBlocks(t *testing.T) {
	r, _ := setupRelay(t, 1)
	for i := range 3 {
		r.Enqueue(events.Event{ID: string(rune('a' + i))})
	}
	assert.Equal(t, uint64(2), r.Dropped())
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "collab:events:doc:a.txt", broadcast.Channel("collab", "doc:a.txt"))
}
