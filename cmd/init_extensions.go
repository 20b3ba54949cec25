/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// init_extensions.go handles extension initialisation and command
// registration.
//
// Design: Extensions register during init() but aren't initialised until
// first command execution. This two-phase pattern allows extensions to
// declare commands before the service exists. The service is created once
// and shared across all extensions via the Context.

package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/jpl-au/collab/extension"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/service"
)

// noStoreCommands lists commands that bypass service initialisation.
var noStoreCommands map[string]bool

// buildNoStoreCommands collects the storeless commands of every extension
// plus cobra's own.
func buildNoStoreCommands() map[string]bool {
	cmds := map[string]bool{
		"help":       true,
		"completion": true,
	}
	for _, ext := range extension.All() {
		if s, ok := ext.(extension.Storeless); ok {
			for _, name := range s.NoStoreCommands() {
				cmds[name] = true
			}
		}
	}
	return cmds
}

var (
	extContext extension.Context
	extService *service.Service
	initOnce   sync.Once
	initErr    error
)

// initExtensions opens the service of the served root and injects it into
// every Initializable extension. It runs at most once per process.
func initExtensions(ctx context.Context) error {
	initOnce.Do(func() {
		cfg, err := LoadConfig()
		if err != nil {
			initErr = err
			return
		}
		svc, err := OpenService(ctx, cfg)
		if err != nil {
			initErr = err
			return
		}
		extService = svc
		extContext = extension.NewContext(svc, cfg)

		for _, ext := range extension.All() {
			if init, ok := ext.(extension.Initializable); ok {
				if err := init.Init(extContext); err != nil {
					initErr = fmt.Errorf("init extension %s: %w", ext.Name(), err)
					return
				}
			}
		}
	})
	return initErr
}

// OpenService opens the service of the served root with cfg. Storeless
// commands that need a service of their own (serve) call it directly and
// own the result.
func OpenService(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	svc, err := service.New(ctx, service.Options{Root: Root(), DB: DB(), Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Root(), err)
	}
	return svc, nil
}

var extensionsOnce sync.Once

// registerExtensions adds commands from all registered extensions.
// Called once before Execute runs.
func registerExtensions() {
	extensionsOnce.Do(func() {
		for _, ext := range extension.All() {
			for _, cmd := range ext.Commands() {
				rootCmd.AddCommand(cmd)
			}
		}
		noStoreCommands = buildNoStoreCommands()
	})
}
