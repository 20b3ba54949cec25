// Package progress shows a spinner on stderr while a long operation runs.
// Output goes to stderr to keep stdout clean for piping; when stderr is
// not a terminal nothing is drawn.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const interval = 100 * time.Millisecond

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a label until stopped.
type Spinner struct {
	w     io.Writer
	label string
	isTTY bool

	mu    sync.Mutex
	frame int
	stop  chan struct{}
	done  chan struct{}
}

// NewSpinner creates a spinner that writes to stderr.
func NewSpinner(label string) *Spinner {
	return newSpinner(os.Stderr, label, term.IsTerminal(int(os.Stderr.Fd())))
}

func newSpinner(w io.Writer, label string, tty bool) *Spinner {
	return &Spinner{w: w, label: label, isTTY: tty}
}

// Start draws the first frame and animates in the background.
func (s *Spinner) Start() {
	if !s.isTTY || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.draw()
	go func() {
		defer close(s.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.Tick()
			}
		}
	}()
}

// Tick advances the animation by one frame.
func (s *Spinner) Tick() {
	if !s.isTTY {
		return
	}
	s.mu.Lock()
	s.frame = (s.frame + 1) % len(frames)
	s.mu.Unlock()
	s.draw()
}

func (s *Spinner) draw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r%s %s...", frames[s.frame], s.label)
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r%*s\r", len(s.label)+6, "")
}
