// diff.go implements the "collab diff" command.
//
// Design: Diff compares two stored versions of one resource. With no range
// it compares the previous version with the latest, which is what a reader
// usually wants after seeing a change event.

package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/diff"
	"github.com/jpl-au/collab/internal/log"
	"github.com/spf13/cobra"
)

func (e *Extension) newDiffCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "diff <path>",
		Short: "Show differences between versions",
		Long: `Show differences between two stored versions.

  collab diff notes.md            # previous version against the latest
  collab diff notes.md -v 3:5     # version 3 against version 5
  collab diff notes.md -v 3       # version 3 against the latest
  collab diff notes.md -v 01HX2K7Q  # a version id against the latest`,
		Args: cobra.ExactArgs(1),
		RunE: e.runDiff,
	}
	c.Flags().StringP(extension.FlagVersions, "v", "", "Version range (e.g., 3:5) or a single version")
	c.Flags().Bool(extension.FlagRaw, false, "Output without colour")
	return c
}

func (e *Extension) runDiff(c *cobra.Command, args []string) error {
	ctx := c.Context()
	path := args[0]
	verRange, _ := c.Flags().GetString(extension.FlagVersions)
	raw, _ := c.Flags().GetBool(extension.FlagRaw)

	from, to, err := e.diffRange(c, path, verRange)
	if err != nil {
		return cmd.PrintJSONError(err)
	}

	r, err := e.svc.Docs.Diff(ctx, path, from, to)
	log.Event("document:diff", "diff").
		Author(cmd.User(e.cfg)).
		Path(path).
		Detail("from", from).
		Detail("to", to).
		Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("diff %q: %w", path, err))
	}

	if cmd.JSON() {
		return cmd.PrintJSON(r)
	}
	fmt.Fprint(cmd.Out(), r.Format(!raw))
	return nil
}

// diffRange turns the -v flag into version refs. A single ref (a sequence
// number or version id) is compared with the latest version.
func (e *Extension) diffRange(c *cobra.Command, path, verRange string) (from, to string, err error) {
	if verRange != "" && !strings.Contains(verRange, ":") {
		return verRange, "", nil
	}
	if verRange != "" {
		v1, v2, err := diff.ParseVersionRange(verRange)
		if err != nil {
			return "", "", err
		}
		return strconv.Itoa(v1), strconv.Itoa(v2), nil
	}
	latest, err := e.svc.Docs.Version(c.Context(), path, "")
	if err != nil {
		return "", "", err
	}
	if latest.Seq < 2 {
		return "", "", fmt.Errorf("%s has only one version", path)
	}
	return strconv.Itoa(latest.Seq - 1), "", nil
}
