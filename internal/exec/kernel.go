// Package exec runs notebook cells and writes their results back as
// nbformat outputs.
//
// A Kernel executes one cell's source. Process, the reference kernel, runs
// a configured command per cell with the source on stdin; it keeps no
// state between cells.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one cell when the caller gives no timeout.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout is returned when a cell runs past its deadline.
	ErrTimeout = errors.New("execution timed out")
	// ErrExecution is returned when a cell fails to run or exits non-zero.
	ErrExecution = errors.New("execution failed")
)

// Result is what a kernel captured from one cell.
type Result struct {
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Kernel executes cell source.
type Kernel interface {
	// Execute runs code until it finishes or ctx is done. A deadline
	// yields ErrTimeout; a failing cell yields ErrExecution. The result
	// holds whatever output was captured in either case.
	Execute(ctx context.Context, code string) (Result, error)
}

// Process runs a command per cell.
type Process struct {
	command []string
	dir     string
}

var _ Kernel = (*Process)(nil)

// NewProcess returns a kernel running command in dir.
func NewProcess(command []string, dir string) (*Process, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("%w: no command configured", ErrExecution)
	}
	return &Process{command: command, dir: dir}, nil
}

// ParseCommand splits a configured command line on whitespace.
func ParseCommand(s string) []string {
	return strings.Fields(s)
}

// Execute implements Kernel.
func (p *Process) Execute(ctx context.Context, code string) (Result, error) {
	cmd := osexec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Dir = p.dir
	cmd.Stdin = strings.NewReader(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait open past the kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("%w after %s", ErrTimeout, res.Duration.Round(time.Millisecond))
	case ctx.Err() != nil:
		return res, ctx.Err()
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return res, fmt.Errorf("%w: exit status %d", ErrExecution, res.ExitCode)
	}
	return res, fmt.Errorf("%w: %v", ErrExecution, err)
}
