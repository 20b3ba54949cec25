// errors.go maps component errors to the stable codes clients see.
//
// Each owning package defines its own sentinels; this is the one place that
// knows all of them. Clients branch on the code, so codes never change once
// published. Messages are free text and may.

package mcp

import (
	"errors"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/exec"
	"github.com/jpl-au/collab/internal/fork"
	"github.com/jpl-au/collab/internal/presence"
	"github.com/jpl-au/collab/internal/session"
	"github.com/jpl-au/collab/internal/validate"
)

// Error codes.
const (
	CodeResourceNotFound  = "resource_not_found"
	CodeResourceBusy      = "resource_busy"
	CodeSessionNotFound   = "session_not_found"
	CodeInvalidRange      = "invalid_range"
	CodePartialBatch      = "partial_batch_failure"
	CodeReplayGap         = "replay_gap"
	CodeForkClosed        = "fork_closed"
	CodeMergeConflict     = "merge_conflict"
	CodeEngineUnavailable = "engine_unavailable"
	CodeExecutionTimeout  = "execution_timeout"
	CodeExecutionError    = "execution_error"
	CodeForbidden         = "forbidden"
	CodeRateLimited       = "rate_limited"
	CodeInvalidArgument   = "invalid_argument"
	CodeInternal          = "internal_error"
)

// ErrInvalidArgument is returned for missing or malformed tool arguments.
var ErrInvalidArgument = errors.New("invalid argument")

var codes = []struct {
	err  error
	code string
}{
	// First match wins.
	{auth.ErrRateLimited, CodeRateLimited},
	{auth.ErrForbidden, CodeForbidden},
	{document.ErrPartialBatch, CodePartialBatch},
	{fork.ErrMergeConflict, CodeMergeConflict},
	{fork.ErrClosed, CodeForkClosed},
	{fork.ErrNotFound, CodeResourceNotFound},
	{session.ErrNotFound, CodeSessionNotFound},
	{events.ErrReplayGap, CodeReplayGap},
	{exec.ErrTimeout, CodeExecutionTimeout},
	{exec.ErrExecution, CodeExecutionError},
	{engine.ErrNotFound, CodeResourceNotFound},
	{document.ErrVersionNotFound, CodeResourceNotFound},
	{engine.ErrBusy, CodeResourceBusy},
	{engine.ErrUnavailable, CodeEngineUnavailable},
	{document.ErrUnrecorded, CodeEngineUnavailable},
	{document.ErrInvalidRange, CodeInvalidRange},
	{engine.ErrBadOp, CodeInvalidRange},
	{exec.ErrSelection, CodeInvalidRange},
	{engine.ErrKindMismatch, CodeInvalidArgument},
	{engine.ErrExists, CodeInvalidArgument},
	{events.ErrInvalidCursor, CodeInvalidArgument},
	{presence.ErrInvalidStatus, CodeInvalidArgument},
	{presence.ErrInvalidCursor, CodeInvalidArgument},
	{validate.ErrInvalidPath, CodeInvalidArgument},
	{validate.ErrPathTooLong, CodeInvalidArgument},
	{validate.ErrContentTooLarge, CodeInvalidArgument},
	{validate.ErrNegative, CodeInvalidArgument},
	{ErrInvalidArgument, CodeInvalidArgument},
}

// Code returns the client-facing code for err.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
