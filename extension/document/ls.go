// ls.go implements the "collab ls" command.
//
// Design: Ls shows what the server would serve: the same listing the
// list_documents and list_notebooks tools return, hidden entries skipped.
// -t prints a tree and -l adds kind, size and modification time.

package document

import (
	"fmt"
	"sort"

	"github.com/jpl-au/collab/cmd"
	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/format"
	"github.com/jpl-au/collab/internal/log"
	"github.com/spf13/cobra"
)

func (e *Extension) newLsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List documents and notebooks",
		Long: `List the served resources, optionally filtered by path prefix.

  collab ls                   # everything
  collab ls docs/ -l          # long format
  collab ls --kind notebook   # notebooks only`,
		Args: cobra.MaximumNArgs(1),
		RunE: e.runLs,
	}
	c.Flags().BoolP(extension.FlagTree, "t", false, "Display as tree")
	c.Flags().BoolP(extension.FlagLong, "l", false, "Long format with metadata")
	c.Flags().StringP(extension.FlagKind, "k", "", "Only this kind: document or notebook")
	return c
}

func (e *Extension) runLs(c *cobra.Command, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	tree, _ := c.Flags().GetBool(extension.FlagTree)
	long, _ := c.Flags().GetBool(extension.FlagLong)
	kind, _ := c.Flags().GetString(extension.FlagKind)

	kinds := []engine.Kind{engine.KindDocument, engine.KindNotebook}
	switch engine.Kind(kind) {
	case "":
	case engine.KindDocument, engine.KindNotebook:
		kinds = []engine.Kind{engine.Kind(kind)}
	default:
		return cmd.PrintJSONError(fmt.Errorf("invalid kind %q: must be document or notebook", kind))
	}

	var entries []engine.Entry
	var err error
	for _, k := range kinds {
		var part []engine.Entry
		part, err = e.svc.Docs.List(c.Context(), k, prefix)
		if err != nil {
			break
		}
		entries = append(entries, part...)
	}
	log.Event("document:ls", "list").
		Author(cmd.User(e.cfg)).
		Path(prefix).
		Detail("count", len(entries)).
		Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("ls %q: %w", prefix, err))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	switch {
	case cmd.JSON():
		if entries == nil {
			entries = []engine.Entry{}
		}
		return cmd.PrintJSON(entries)
	case tree:
		format.Tree(cmd.Out(), entries)
	case long:
		format.Long(cmd.Out(), entries)
	default:
		format.Paths(cmd.Out(), entries)
	}
	return nil
}
