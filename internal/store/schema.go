// schema.go defines the SQLite schema and the helper that applies it.
//
// Schema files are embedded from the sql/ directory and executed in
// alphabetical order (hence the numeric prefixes). Each file uses
// IF NOT EXISTS so Init is idempotent.

package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var schemas embed.FS

var (
	// ErrNotFound indicates the requested version or fork does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when inserting a record whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ExecEmbedded executes all .sql files from an embedded filesystem in
// alphabetical order.
func ExecEmbedded(db *sql.DB, fsys embed.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read schema directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := dir + "/" + entry.Name()
		data, err := fsys.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("exec %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// execSchema executes the embedded schema files.
func execSchema(db *sql.DB) error {
	return ExecEmbedded(db, schemas, "sql")
}
