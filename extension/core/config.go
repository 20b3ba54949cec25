// config.go implements the "collab config" command.
//
// Design: Config follows a cascade model similar to git: local config
// (.collab/config.yaml under the served root) takes precedence over global
// (~/.collab/config.yaml). Writes go where the read came from. The --local
// flag forces local config even before it exists, so a directory can be
// configured right after "collab init".

package core

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/log"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config [key] [value]",
		Short: "View or set config values",
		Long: `View or set config values.

  collab config                        # show config
  collab config server.transport       # show one value
  collab config server.transport http  # set it

Configuration locations:
  Global: ~/.collab/config.yaml
  Local:  .collab/config.yaml in the served directory

Uses local config if it exists, otherwise global.
Writes go to the same place reads come from.
Use --local to use local config instead.`,
		Args: cobra.MaximumNArgs(2),
		RunE: runConfig,
	}
	c.Flags().Bool(extension.FlagLocal, false, "Use local config (.collab/config.yaml)")
	return c
}

func runConfig(c *cobra.Command, args []string) error {
	forceLocal, _ := c.Flags().GetBool(extension.FlagLocal)

	var cfg *config.Config
	var err error
	if forceLocal {
		cfg, err = config.LoadFile(filepath.Join(cmd.Root(), config.Dir, "config.yaml"), config.ScopeLocal)
	} else {
		cfg, err = cmd.LoadConfig()
	}
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("config load: %w", err))
	}

	scopeName := "global"
	if cfg.Scope() == config.ScopeLocal {
		scopeName = "local"
	}
	author := cmd.User(cfg)

	switch len(args) {
	case 0:
		all := cfg.All()
		log.Event("core:config", "list").Author(author).Write(nil)
		if cmd.JSON() {
			return cmd.PrintJSON(all)
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.Out(), "%s: %s\n", k, all[k])
		}

	case 1:
		v, err := cfg.Get(args[0])
		log.Event("core:config", "get").Author(author).Detail("key", args[0]).Write(err)
		if err != nil {
			return cmd.PrintJSONError(fmt.Errorf("config get %q: %w", args[0], err))
		}
		if cmd.JSON() {
			return cmd.PrintJSON(map[string]string{args[0]: v})
		}
		fmt.Fprintln(cmd.Out(), v)

	case 2:
		if err := cfg.Set(args[0], args[1]); err != nil {
			log.Event("core:config", "set").Author(author).Detail("key", args[0]).Write(err)
			return cmd.PrintJSONError(fmt.Errorf("config set %q: %w", args[0], err))
		}

		saveErr := cfg.Save()
		// The value is not logged: auth rules and redis addresses stay out of the audit trail.
		log.Event("core:config", "set").Author(author).Detail("key", args[0]).Detail("scope", scopeName).Write(saveErr)
		if saveErr != nil {
			return cmd.PrintJSONError(fmt.Errorf("config save: %w", saveErr))
		}
		fmt.Fprintf(cmd.Out(), "%s = %s (%s)\n", args[0], args[1], scopeName)
	}
	return nil
}
