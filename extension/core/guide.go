// guide.go implements the "collab guide" command.
//
// Design: Guides are embedded in the binary, so the text the CLI prints is
// the same text the get_guide tool returns to agents. A terminal gets
// glamour rendering; a pipe gets raw markdown.

package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/guide"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newGuideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guide [topic]",
		Short: "Show the collab usage guide",
		Long: `Outputs the collab guide for agents and humans.

  collab guide            # main guide
  collab guide forks      # forking and merging
  collab guide notebooks  # notebook cells and execution`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}

			content, err := guide.Get(name)
			if err != nil {
				available, listErr := guide.List()
				if listErr != nil {
					return listErr
				}
				return cmd.PrintJSONError(fmt.Errorf("guide %q not found. Available: %s", name, strings.Join(available, ", ")))
			}

			if cmd.JSON() {
				return cmd.PrintJSON(map[string]string{"topic": name, "content": content})
			}
			if term.IsTerminal(int(os.Stdout.Fd())) {
				if rendered, err := glamour.Render(content, "dark"); err == nil {
					fmt.Fprint(cmd.Out(), rendered)
					return nil
				}
			}
			fmt.Fprint(cmd.Out(), content)
			return nil
		},
	}
}
