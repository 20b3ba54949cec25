// Package extension provides the plugin architecture for the collab CLI.
// Extensions group related commands and register at init time, so a new
// command family never touches the root command.
package extension

import (
	"github.com/spf13/cobra"
)

// Extension defines the contract for collab extensions.
type Extension interface {
	// Name returns a unique identifier for this extension.
	Name() string

	// Commands returns CLI commands to register with the root command.
	Commands() []*cobra.Command
}

// Initializable extensions receive the shared service before their
// commands run.
type Initializable interface {
	Extension
	Init(ctx Context) error
}

// Storeless is an optional interface for extensions with commands that
// don't need the served directory's service. Commands returned by
// NoStoreCommands() do not trigger service initialisation in
// PersistentPreRunE.
//
// Use cases:
// 1. Commands that manage their own service lifecycle (serve)
// 2. Commands that only read configuration or embedded docs (config, guide)
// 3. Commands that talk to another process (tail follows the Redis relay)
type Storeless interface {
	NoStoreCommands() []string
}
