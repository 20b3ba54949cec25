package core

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/broadcast"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is written by the command and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// setupRoot points the CLI at a fresh served directory with the given
// local config and an empty home.
func setupRoot(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("COLLAB_ROOT", dir)
	if cfg != "" {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, config.Dir), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.Dir, "config.yaml"), []byte(cfg), 0644))
	}
	return dir
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	setupRoot(t, "")
	c := newServeCmd()
	c.SetContext(context.Background())
	require.NoError(t, c.Flags().Set(extension.FlagTransport, "carrier-pigeon"))

	err := runServe(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestTailNeedsRelay(t *testing.T) {
	setupRoot(t, "")
	c := newTailCmd()
	c.SetContext(context.Background())
	assert.ErrorIs(t, runTail(c, nil), broadcast.ErrNotConfigured)
}

func TestTailPrintsRelayedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	setupRoot(t, "redis:\n  addr: "+mr.Addr()+"\n")

	out := &lockedBuffer{}
	cmd.SetOut(out)
	t.Cleanup(func() { cmd.SetOut(os.Stdout) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTailCmd()
	c.SetContext(ctx)
	done := make(chan error, 1)
	go func() { done <- runTail(c, []string{"doc:*"}) }()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	data, err := json.Marshal(events.Event{
		ID: "01J0000000000000000000TEST", Stream: "doc:a.txt", Type: "document.op",
		Payload: json.RawMessage(`{"applied":1}`), Time: time.Now(),
	})
	require.NoError(t, err)
	channel := broadcast.Channel(config.DefaultRedisPrefix, "doc:a.txt")

	// The subscription starts asynchronously; publish until it is seen.
	assert.Eventually(t, func() bool {
		rdb.Publish(ctx, channel, data)
		return strings.Contains(out.String(), "doc:a.txt")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), `{"applied":1}`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not stop")
	}
}
