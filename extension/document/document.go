// Package document provides the read-only resource commands: ls, history
// and diff. Edits go through the MCP tools so that every change reaches the
// event stream and the open sessions.
package document

import (
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/service"
	"github.com/spf13/cobra"
)

func init() {
	extension.Register(&Extension{})
}

// Extension implements the document extension.
type Extension struct {
	svc *service.Service
	cfg *config.Config
}

var (
	_ extension.Extension     = (*Extension)(nil)
	_ extension.Initializable = (*Extension)(nil)
)

// Name returns "document".
func (e *Extension) Name() string { return "document" }

// Init connects to the shared service.
func (e *Extension) Init(ctx extension.Context) error {
	e.svc = ctx.Service()
	e.cfg = ctx.Config()
	return nil
}

// Commands returns the resource inspection commands.
func (e *Extension) Commands() []*cobra.Command {
	return []*cobra.Command{
		e.newLsCmd(),
		e.newHistoryCmd(),
		e.newDiffCmd(),
	}
}
