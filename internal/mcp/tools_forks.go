// tools_forks.go implements the fork tools.
//
// Forks are addressed by their source path plus fork id; a fork id that
// belongs to another source is reported as not found. A merge that leaves
// conflicts is a successful call: the fork is merged and the result lists
// what was not applied.

package mcp

import (
	"context"
	"fmt"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/fork"
	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) forkDocument(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	if err := requireKind(p, engine.KindDocument); err != nil {
		return reply{}, err
	}
	f, err := h.svc.Forks.Create(ctx, p, fork.Options{
		Title:       getString(req, "title", ""),
		Description: getString(req, "description", ""),
		Synchronize: getBool(req, "synchronize", false),
		Author:      auth.User(ctx),
	})
	if err != nil {
		return reply{}, err
	}
	mode := "independent"
	if f.Synchronize {
		mode = "synchronized"
	}
	r := replyf(f, "created %s fork %s of %s at %s", mode, f.ID, p, f.ForkPath)
	r.audit = map[string]any{"fork_id": f.ID}
	return r, nil
}

func (h *handlers) listDocumentForks(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	forks := h.svc.Forks.List(p)
	open := 0
	for _, f := range forks {
		if !f.Closed() {
			open++
		}
	}
	out := map[string]any{"path": p, "forks": forks}
	return replyf(out, "%s: %d forks, %d open", p, len(forks), open), nil
}

type mergeReply struct {
	*fork.MergeResult
	Code string `json:"code,omitempty"`
}

func (h *handlers) mergeDocumentFork(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	id, err := requireString(req, "fork_id")
	if err != nil {
		return reply{}, err
	}
	res, err := h.svc.Forks.Merge(ctx, p, id, auth.User(ctx))
	if err != nil {
		return reply{}, err
	}
	out := mergeReply{MergeResult: res}
	summary := fmt.Sprintf("merged fork %s into %s: %d changes applied", id, p, res.Applied)
	if cerr := res.Err(); cerr != nil {
		out.Code = Code(cerr)
		summary += fmt.Sprintf(", %d conflicts", len(res.Conflicts))
	}
	r := replyf(out, "%s", summary)
	if res.Version != nil {
		r.version = res.Version.VersionID
	}
	r.audit = map[string]any{"fork_id": id, "applied": res.Applied, "conflicts": len(res.Conflicts)}
	return r, nil
}

func (h *handlers) abandonDocumentFork(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	p := getString(req, "path", "")
	id, err := requireString(req, "fork_id")
	if err != nil {
		return reply{}, err
	}
	f, err := h.svc.Forks.Abandon(ctx, p, id)
	if err != nil {
		return reply{}, err
	}
	r := replyf(f, "abandoned fork %s of %s", id, p)
	r.audit = map[string]any{"fork_id": id}
	return r, nil
}
