package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinnerSilentWithoutTTY(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, "Vacuuming", false)
	s.Start()
	s.Tick()
	s.Stop()
	assert.Empty(t, buf.String())
}

func TestSpinnerDrawsAndClears(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, "Vacuuming", true)
	s.Start()
	s.Stop()
	out := buf.String()
	assert.Contains(t, out, "Vacuuming...")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\r")))

	s.Stop()
	assert.Equal(t, out, buf.String(), "second stop is a no-op")
}
