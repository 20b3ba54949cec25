// Package all imports the built-in collab extensions.
// Import this package to register all built-in commands.
package all

import (
	// Each registers itself via init()
	_ "github.com/jpl-au/collab/extension/core"
	_ "github.com/jpl-au/collab/extension/document"
)
