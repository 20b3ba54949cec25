// history.go implements the "collab history" command.
//
// Design: History reads the version log directly, so it works whether or
// not a server is running. -d shows what each version changed.

package document

import (
	"fmt"
	"io"
	"os"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/history"
	"github.com/jpl-au/collab/internal/log"
	"github.com/jpl-au/collab/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (e *Extension) newHistoryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "history <path>",
		Short: "Show version history",
		Long: `Display the version history of a document or notebook, newest first.

  collab history notes.md
  collab history notes.md -n 5 -d   # last five versions with diffs`,
		Args: cobra.ExactArgs(1),
		RunE: e.runHistory,
	}
	c.Flags().IntP(extension.FlagLimit, "n", 0, "Limit number of versions shown")
	c.Flags().BoolP(extension.FlagDiff, "d", false, "Show diffs between versions")
	return c
}

func (e *Extension) runHistory(c *cobra.Command, args []string) error {
	limit, _ := c.Flags().GetInt(extension.FlagLimit)
	showDiff, _ := c.Flags().GetBool(extension.FlagDiff)
	path := args[0]

	if limit < 0 {
		return cmd.PrintJSONError(fmt.Errorf("limit must be >= 0, got %d", limit))
	}

	w := cmd.Out()
	if cmd.JSON() {
		w = io.Discard
	}
	result, err := history.Run(c.Context(), w, e.svc.Store, path, history.Options{
		Limit:    limit,
		ShowDiff: showDiff,
		Colour:   term.IsTerminal(int(os.Stdout.Fd())),
	})
	log.Event("document:history", "history").
		Author(cmd.User(e.cfg)).
		Path(path).
		Detail("count", len(result.Versions)).
		Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("history %q: %w", path, err))
	}

	if cmd.JSON() {
		out := make([]store.VersionJSON, len(result.Versions))
		for i := range result.Versions {
			out[i] = result.Versions[i].ToJSON()
		}
		return cmd.PrintJSON(out)
	}
	return nil
}
