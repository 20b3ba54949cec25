// checkpoint.go implements WAL checkpointing.
//
// The service checkpoints on shutdown so a stopped server leaves a single
// database file behind. TRUNCATE mode flushes the WAL fully and removes the
// -wal/-shm files.

package store

import (
	"context"
	"fmt"
)

// Checkpoint writes all WAL data back to the main database file and
// truncates the WAL.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}
