// init.go implements the "collab init" command.
//
// Design: Init only creates the state directory and its database. The
// served files are left alone and config is managed separately with
// "collab config", following git's split between init and config.

package core

import (
	"fmt"
	"path/filepath"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/internal/log"
	"github.com/jpl-au/collab/internal/repo"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Prepare a directory for sharing",
		Long: `Creates .collab/collab.db in the directory (default: the working directory).

Running it again is harmless. "collab serve" initialises the directory on
first use as well; init is for setting up config before the first serve.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return cmd.PrintJSONError(err)
			}
			p, err := repo.Init(abs)
			log.Event("core:init", "init").Path(abs).Write(err)
			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("init %s: %w", abs, err))
			}
			if cmd.JSON() {
				return cmd.PrintJSON(map[string]string{"root": abs, "db": p})
			}
			fmt.Fprintf(cmd.Out(), "Initialised collab state in %s\n", filepath.Dir(p))
			return nil
		},
	}
}
