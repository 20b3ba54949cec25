// maint.go holds housekeeping: statistics and history compaction.

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats implements Maintainer.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(DISTINCT path) FROM versions),
		(SELECT COUNT(*) FROM versions),
		(SELECT COUNT(*) FROM forks),
		(SELECT COUNT(*) FROM forks WHERE closed_at IS NULL)`).
		Scan(&st.Paths, &st.Versions, &st.Forks, &st.OpenForks)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}

// Vacuum keeps the newest keep versions of every path (at least one) and
// deletes the rest. The newest version always survives, so MAX(seq) never
// moves backwards and sequence numbers are never reused.
func (s *SQLiteStore) Vacuum(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var n int64
	err := retryOnContention(func() error {
		return s.Tx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE id IN (
				SELECT v.id FROM versions v
				WHERE (SELECT COUNT(*) FROM versions w WHERE w.path = v.path AND w.seq > v.seq) >= ?)`, keep)
			if err != nil {
				return fmt.Errorf("vacuum versions: %w", err)
			}
			n, err = res.RowsAffected()
			return err
		})
	})
	return n, err
}

// Prunable counts the versions Vacuum would delete for the same keep.
func (s *SQLiteStore) Prunable(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions v
		WHERE (SELECT COUNT(*) FROM versions w WHERE w.path = v.path AND w.seq > v.seq) >= ?`, keep).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prunable: %w", err)
	}
	return n, nil
}
