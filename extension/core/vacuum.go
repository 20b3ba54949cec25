// vacuum.go implements the "collab vacuum" command.
//
// Design: Vacuum runs against the shared service so it sees the same
// database the server writes to. SQLite WAL mode lets it run beside a live
// server; the store retries on contention.

package core

import (
	"fmt"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/log"
	"github.com/jpl-au/collab/internal/vacuum"
	"github.com/spf13/cobra"
)

func (e *Extension) newVacuumCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "vacuum",
		Short: "Compact version history",
		Long: `Delete old versions, keeping the newest --keep of every path.

The newest version of a path is always kept, so restore and diff still
work against the current state. Deleted versions cannot be recovered.

  collab vacuum --dry-run    # count what would go
  collab vacuum --keep 3`,
		Args: cobra.NoArgs,
		RunE: e.runVacuum,
	}
	c.Flags().Int(extension.FlagKeep, vacuum.DefaultKeep, "Versions to keep per path")
	c.Flags().BoolP(extension.FlagDryRun, "n", false, "Show what would be deleted")
	return c
}

func (e *Extension) runVacuum(c *cobra.Command, _ []string) error {
	keep, _ := c.Flags().GetInt(extension.FlagKeep)
	dryRun, _ := c.Flags().GetBool(extension.FlagDryRun)
	if keep < 1 {
		return cmd.PrintJSONError(fmt.Errorf("--keep must be at least 1, got %d", keep))
	}

	out := cmd.Out()
	if cmd.JSON() {
		out = nil
	}
	res, err := vacuum.Run(c.Context(), out, e.ctx.Service().Store, vacuum.Options{Keep: keep, DryRun: dryRun})
	log.Event("core:vacuum", "vacuum").
		Author(cmd.User(e.ctx.Config())).
		Detail("keep", keep).
		Detail("dry_run", dryRun).
		Detail("count", res.Deleted).
		Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("vacuum: %w", err))
	}
	if cmd.JSON() {
		return cmd.PrintJSON(res)
	}
	return nil
}
