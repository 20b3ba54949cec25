// interfaces.go defines the storage abstraction. The interfaces are
// granular so consumers depend only on what they use: the document adapter
// needs a VersionLog, the fork manager a ForkStore.

package store

import (
	"context"
	"database/sql"
)

// VersionLog records and reads resource history.
type VersionLog interface {
	// AppendVersion records a new version, assigning the next seq for the
	// path inside a transaction.
	AppendVersion(ctx context.Context, v NewVersion) (*Version, error)

	// Versions returns up to limit versions of path, newest first.
	Versions(ctx context.Context, path string, limit int) ([]Version, error)

	// VersionByKey returns the version of path with the given key.
	VersionByKey(ctx context.Context, path, key string) (*Version, error)

	// VersionBySeq returns the version of path with the given seq.
	VersionBySeq(ctx context.Context, path string, seq int) (*Version, error)

	// LatestVersion returns the newest version of path.
	LatestVersion(ctx context.Context, path string) (*Version, error)
}

// ForkStore persists fork records.
type ForkStore interface {
	// SaveFork inserts or updates a fork record.
	SaveFork(ctx context.Context, f *Fork) error

	// Fork returns one fork by id.
	Fork(ctx context.Context, id string) (*Fork, error)

	// Forks lists the forks of a source path ("" for all), oldest first.
	Forks(ctx context.Context, source string, openOnly bool) ([]Fork, error)
}

// Maintainer covers housekeeping.
type Maintainer interface {
	Stats(ctx context.Context) (*Stats, error)
	Vacuum(ctx context.Context, keep int) (int64, error)
	Prunable(ctx context.Context, keep int) (int64, error)
	Checkpoint(ctx context.Context) error
}

// Store combines every capability.
type Store interface {
	VersionLog
	ForkStore
	Maintainer
	Init() error
	Close() error
	DB() *sql.DB
}
