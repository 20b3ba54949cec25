/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// flags.go defines global CLI flags and accessors for shared state.
//
// Design: Flags are package-level variables bound to the root command.
// Extensions read them through exported accessors rather than coupling to
// cobra internals. The JSON() helper simplifies output format detection
// across all commands.

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/repo"
	"github.com/spf13/cobra"
)

var validOutputFormats = []string{"json"}

var (
	output string
	user   string
	db     string
	root   string
)

// out is the output writer for commands. Tests can replace it.
var out io.Writer = os.Stdout

// Out returns the output writer.
func Out() io.Writer { return out }

// SetOut sets the output writer (for testing).
func SetOut(w io.Writer) { out = w }

// Output returns the output format flag value.
func Output() string { return output }

// DB returns the database path override.
// Priority: --db flag > COLLAB_DB env var > empty (<root>/.collab/collab.db).
func DB() string {
	if db != "" {
		return db
	}
	return os.Getenv("COLLAB_DB")
}

// Root returns the served directory.
// Priority: --root flag > COLLAB_ROOT env var > the nearest directory above
// the working directory holding a .collab directory > the working directory.
func Root() string {
	if root != "" {
		return root
	}
	if r := os.Getenv("COLLAB_ROOT"); r != "" {
		return r
	}
	if r, err := repo.Discover("."); err == nil {
		return r
	}
	return "."
}

// User returns the principal for CLI writes and stdio sessions.
// Priority: --user flag > user.name in config > the default.
func User(cfg *config.Config) string {
	if user != "" {
		return user
	}
	return cfg.UserName()
}

// LoadConfig reads the local config of the served root if it has one,
// otherwise the global config.
func LoadConfig() (*config.Config, error) {
	local := filepath.Join(Root(), config.Dir, "config.yaml")
	if _, err := os.Stat(local); err == nil {
		return config.LoadFile(local, config.ScopeLocal)
	}
	return config.Load()
}

// JSON returns true if JSON output is requested.
func JSON() bool { return output == "json" }

// PrintJSON marshals v to JSON and writes it to the output writer.
// Returns nil if output format is not JSON.
func PrintJSON(v any) error {
	if output != "json" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(out, string(b))
	return nil
}

// PrintJSONError prints an error in JSON format if output is JSON.
// Returns nil if the error was printed (suppressing cobra's own report),
// or the original error if not.
func PrintJSONError(err error) error {
	if output != "json" || err == nil {
		return err
	}
	_ = PrintJSON(map[string]string{"error": err.Error()})
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format: json")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Principal for writes and stdio sessions")
	rootCmd.PersistentFlags().StringVar(&db, "db", "", "Database path (default <root>/.collab/collab.db)")
	rootCmd.PersistentFlags().StringVar(&root, "root", "", "Served directory (default: discovered from the working directory)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return validOutputFormats, cobra.ShellCompDirectiveNoFileComp
	})
}
