// flags.go defines constants for all CLI flag names.
//
// Using constants instead of string literals prevents typos when flag names
// are used in both Flags().Type() definitions and GetType() calls.
//
// Naming convention: Flag<PascalCaseName> where name matches the kebab-case
// CLI flag (e.g., "dry-run" -> FlagDryRun).

package extension

// Flag name constants for CLI commands.
const (
	// Boolean flags

	FlagDiff   = "diff"    // Show diff output
	FlagDryRun = "dry-run" // Preview without making changes
	FlagLocal  = "local"   // Use local scope
	FlagLong   = "long"    // Long format output
	FlagRaw    = "raw"     // Raw output without formatting
	FlagTree   = "tree"    // Tree view output

	// String flags

	FlagAddr      = "addr"      // Listen address
	FlagKind      = "kind"      // Resource kind filter
	FlagTransport = "transport" // MCP transport
	FlagVersions  = "versions"  // Version range (e.g., "3:5")

	// Integer flags

	FlagKeep  = "keep"  // Versions to keep per path
	FlagLimit = "limit" // Limit number of results
)
