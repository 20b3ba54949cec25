// Package core provides the core extension for collab.
// It registers commands: init, serve, config, guide, version, tail, vacuum.
package core

import (
	"github.com/jpl-au/collab/extension"
	"github.com/spf13/cobra"
)

func init() {
	extension.Register(&Extension{})
}

// Extension implements the core extension.
type Extension struct {
	ctx extension.Context
}

// Compile-time interface compliance.
var (
	_ extension.Extension     = (*Extension)(nil)
	_ extension.Initializable = (*Extension)(nil)
	_ extension.Storeless     = (*Extension)(nil)
)

// Name returns "core".
func (e *Extension) Name() string { return "core" }

// Init keeps the shared context for vacuum.
func (e *Extension) Init(ctx extension.Context) error {
	e.ctx = ctx
	return nil
}

// Commands returns the server management commands.
func (e *Extension) Commands() []*cobra.Command {
	return []*cobra.Command{
		newInitCmd(),
		newServeCmd(),
		newConfigCmd(),
		newGuideCmd(),
		newVersionCmd(),
		newTailCmd(),
		e.newVacuumCmd(),
	}
}

// NoStoreCommands returns the commands that do not use the shared service.
// serve: owns its service for the life of the server.
// init: creates the state directory the service would open.
// tail: follows the Redis relay, not the local directory.
func (e *Extension) NoStoreCommands() []string {
	return []string{"init", "serve", "config", "guide", "version", "tail"}
}
