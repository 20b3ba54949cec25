// Package store persists version history and fork records in SQLite.
//
// Live document content belongs to the document engine; this package keeps
// what the collaboration layer itself must not lose: the append-only
// version log (one entry per committed mutation, with the content snapshot
// needed for restore and diff) and the records of open and closed forks.
package store

import (
	"encoding/json"
	"time"
)

// Version is one entry of a resource's history.
type Version struct {
	ID        int64  // Database primary key (internal)
	Key       string // Unique 8-char identifier, exposed as version_id
	Path      string // Resource path
	Seq       int    // Strictly increasing per path, never reused
	Kind      string // "document" or "notebook"
	Summary   string // What the committed operation did
	Author    string // Who committed it
	Content   string // Snapshot after the commit
	CreatedAt int64  // Unix milliseconds
}

// NewVersion carries the fields a caller supplies when recording a version.
type NewVersion struct {
	Path    string
	Kind    string
	Summary string
	Author  string
	Content string
}

// VersionJSON is the API representation of a Version, without content.
type VersionJSON struct {
	VersionID string `json:"version_id"`
	Seq       int    `json:"seq"`
	Path      string `json:"path"`
	Summary   string `json:"summary"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

// Time returns the commit time.
func (v *Version) Time() time.Time {
	return time.UnixMilli(v.CreatedAt).UTC()
}

// ToJSON converts a Version to its API representation.
func (v *Version) ToJSON() VersionJSON {
	return VersionJSON{
		VersionID: v.Key,
		Seq:       v.Seq,
		Path:      v.Path,
		Summary:   v.Summary,
		Author:    v.Author,
		Timestamp: v.Time().Format(time.RFC3339Nano),
	}
}

// Fork is the persisted record of a fork.
type Fork struct {
	ID          string
	SourcePath  string
	ForkPath    string
	Title       string
	Description string
	Synchronize bool
	State       string
	Kind        string
	Base        string          // merge ancestor: the source as the fork last saw it
	Skipped     json.RawMessage // operations skipped during synchronisation
	Contested   json.RawMessage // ancestor regions whose source change was skipped
	Author      string
	CreatedAt   int64  // Unix milliseconds
	ClosedAt    *int64 // Unix milliseconds, nil while open
}

// Stats summarises what the store holds.
type Stats struct {
	Paths     int64 `json:"paths"`
	Versions  int64 `json:"versions"`
	Forks     int64 `json:"forks"`
	OpenForks int64 `json:"open_forks"`
}

// MarshalJSON encodes a value with indentation for human-readable output.
func MarshalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
