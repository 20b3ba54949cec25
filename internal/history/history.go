// Package history prints a resource's version log, optionally with the
// diff each version introduced.
package history

import (
	"context"
	"fmt"
	"io"

	"github.com/jpl-au/collab/internal/format"
	"github.com/jpl-au/collab/internal/store"
)

// Options configures a history listing.
type Options struct {
	Limit    int  // Maximum versions to return (0 = all)
	ShowDiff bool // Show diffs between versions
	Colour   bool // Colourise diff output
}

// Result contains the versions that were printed, newest first.
type Result struct {
	Versions []store.Version
}

// Run reads path's history from log and writes it to w.
//
// Design: a diff needs the version before the oldest one shown, so with
// ShowDiff one extra version is read and used only as the base.
func Run(ctx context.Context, w io.Writer, log store.VersionLog, path string, opts Options) (Result, error) {
	var result Result

	limit := opts.Limit
	if opts.ShowDiff && limit > 0 {
		limit++
	}
	vs, err := log.Versions(ctx, path, limit)
	if err != nil {
		return result, err
	}
	if len(vs) == 0 {
		return result, fmt.Errorf("%w: no history for %s", store.ErrNotFound, path)
	}

	if opts.ShowDiff {
		format.HistoryDiff(w, vs, opts.Colour)
		if opts.Limit > 0 && len(vs) > opts.Limit {
			vs = vs[:opts.Limit]
		}
	} else {
		format.History(w, vs)
	}
	result.Versions = vs
	return result, nil
}
