// Package vacuum compacts version history. Every path keeps its newest
// versions; older ones are deleted for good. The newest version of a path
// always survives so the next sequence number never moves backwards.
package vacuum

import (
	"context"
	"fmt"
	"io"

	"github.com/jpl-au/collab/internal/progress"
	"github.com/jpl-au/collab/internal/store"
)

// DefaultKeep is the number of versions kept per path when Options.Keep is
// zero.
const DefaultKeep = 10

// Options configures a vacuum run.
type Options struct {
	Keep   int  // versions kept per path
	DryRun bool // count without deleting
}

// Result reports what was, or would be, deleted.
type Result struct {
	Keep     int          `json:"keep"`
	Deleted  int64        `json:"deleted"`
	DryRun   bool         `json:"dry_run,omitempty"`
	Before   *store.Stats `json:"before"`
	Versions int64        `json:"versions_after"`
}

// Run prunes history in s. With DryRun it only counts. Progress goes to
// stderr; w receives the human-readable summary and may be nil.
func Run(ctx context.Context, w io.Writer, s store.Maintainer, opts Options) (Result, error) {
	keep := opts.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}
	res := Result{Keep: keep, DryRun: opts.DryRun}

	before, err := s.Stats(ctx)
	if err != nil {
		return res, err
	}
	res.Before = before

	if opts.DryRun {
		res.Deleted, err = s.Prunable(ctx, keep)
	} else {
		spin := progress.NewSpinner("Vacuuming")
		spin.Start()
		res.Deleted, err = s.Vacuum(ctx, keep)
		spin.Stop()
	}
	if err != nil {
		return res, err
	}
	res.Versions = before.Versions - res.Deleted

	if w != nil {
		verb := "Deleted"
		if opts.DryRun {
			verb = "Would delete"
		}
		if res.Deleted == 0 {
			fmt.Fprintf(w, "Nothing to vacuum (%d versions across %d paths)\n", before.Versions, before.Paths)
		} else {
			fmt.Fprintf(w, "%s %d of %d versions, keeping %d per path\n", verb, res.Deleted, before.Versions, keep)
		}
	}
	return res, nil
}
