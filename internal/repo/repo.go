// Package repo locates and initialises the .collab state directory of a
// served root.
//
// The state directory holds the version log and fork records (collab.db) and
// the optional local config. Discovery mirrors git: starting from a
// directory, walk up until a .collab directory is found or the filesystem
// root is reached. The served engine skips hidden directories, so .collab
// never shows up as a resource.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jpl-au/collab/internal/store"
)

const (
	// Dir is the name of the state directory.
	Dir = ".collab"
	// DBFile is the database filename inside Dir.
	DBFile = "collab.db"
)

// ErrNotInitialised is returned when no .collab directory is found.
var ErrNotInitialised = errors.New("no .collab directory found (run 'collab serve' in the directory to share)")

const gitignore = `# collab session state is local to this machine
*
`

// DBPath returns the database path for root.
func DBPath(root string) string {
	return filepath.Join(root, Dir, DBFile)
}

// Init creates root/.collab and an initialised database if they do not
// exist, and returns the database path. It is safe to call on an existing
// state directory.
func Init(root string) (string, error) {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}

	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignore, []byte(gitignore), 0644); err != nil {
			return "", fmt.Errorf("write gitignore: %w", err)
		}
	}

	p := DBPath(root)
	s, err := store.Open(p)
	if err != nil {
		return "", fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	if err := s.Init(); err != nil {
		return "", fmt.Errorf("init store: %w", err)
	}
	return p, nil
}

// Discover walks up from start looking for a directory containing .collab
// and returns that directory (the served root).
func Discover(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, Dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialised
		}
		dir = parent
	}
}
