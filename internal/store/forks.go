// forks.go persists fork records. Records are written on creation and on
// every state change, so a restarted server can list, merge or abandon
// forks it did not create.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const forkColumns = `id, source_path, fork_path, title, description, synchronize, state, kind, base, skipped, contested, author, created_at, closed_at`

// SaveFork implements ForkStore. The identifying columns are written once;
// later saves update the state, the merge ancestor and its
// synchronisation record.
func (s *SQLiteStore) SaveFork(ctx context.Context, f *Fork) error {
	skipped := string(f.Skipped)
	if skipped == "" {
		skipped = "[]"
	}
	contested := string(f.Contested)
	if contested == "" {
		contested = "{}"
	}
	sync := 0
	if f.Synchronize {
		sync = 1
	}
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO forks (`+forkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				synchronize = excluded.synchronize,
				base = excluded.base,
				skipped = excluded.skipped,
				contested = excluded.contested,
				closed_at = excluded.closed_at`,
			f.ID, f.SourcePath, f.ForkPath, f.Title, f.Description, sync, f.State, f.Kind,
			f.Base, skipped, contested, f.Author, f.CreatedAt, f.ClosedAt)
		if err != nil {
			return fmt.Errorf("save fork %s: %w", f.ID, err)
		}
		return nil
	})
}

// Fork implements ForkStore.
func (s *SQLiteStore) Fork(ctx context.Context, id string) (*Fork, error) {
	f, err := scanFork(s.db.QueryRowContext(ctx, `SELECT `+forkColumns+` FROM forks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan fork: %w", err)
	}
	return &f, nil
}

// Forks implements ForkStore.
func (s *SQLiteStore) Forks(ctx context.Context, source string, openOnly bool) ([]Fork, error) {
	q := `SELECT ` + forkColumns + ` FROM forks WHERE 1 = 1`
	var args []any
	if source != "" {
		q += ` AND source_path = ?`
		args = append(args, source)
	}
	if openOnly {
		q += ` AND closed_at IS NULL`
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list forks: %w", err)
	}
	defer rows.Close()

	var out []Fork
	for rows.Next() {
		f, err := scanFork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fork: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFork(sc scanner) (Fork, error) {
	var f Fork
	var sync int
	var skipped, contested string
	var closed sql.NullInt64
	err := sc.Scan(&f.ID, &f.SourcePath, &f.ForkPath, &f.Title, &f.Description, &sync, &f.State,
		&f.Kind, &f.Base, &skipped, &contested, &f.Author, &f.CreatedAt, &closed)
	if err != nil {
		return f, err
	}
	f.Synchronize = sync == 1
	f.Skipped = []byte(skipped)
	f.Contested = []byte(contested)
	if closed.Valid {
		f.ClosedAt = &closed.Int64
	}
	return f, nil
}
