// versions.go implements the append-only version log.
//
// Design: seq is computed as MAX(seq)+1 inside the insert transaction and
// protected by UNIQUE(path, seq), so two writers racing on one path cannot
// share a number.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const versionColumns = `id, vkey, path, seq, kind, summary, author, content, created_at`

// AppendVersion implements VersionLog.
func (s *SQLiteStore) AppendVersion(ctx context.Context, nv NewVersion) (*Version, error) {
	var v *Version
	err := retryOnContention(func() error {
		return s.Tx(ctx, func(tx *sql.Tx) error {
			var maxSeq int
			err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM versions WHERE path = ?`, nv.Path).Scan(&maxSeq)
			if err != nil {
				return fmt.Errorf("get max seq: %w", err)
			}
			key, err := genID()
			if err != nil {
				return err
			}
			now := time.Now().UnixMilli()
			res, err := tx.ExecContext(ctx, `INSERT INTO versions (vkey, path, seq, kind, summary, author, content, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				key, nv.Path, maxSeq+1, nv.Kind, nv.Summary, nv.Author, nv.Content, now)
			if err != nil {
				return fmt.Errorf("insert version: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert version: %w", err)
			}
			v = &Version{
				ID: id, Key: key, Path: nv.Path, Seq: maxSeq + 1, Kind: nv.Kind,
				Summary: nv.Summary, Author: nv.Author, Content: nv.Content, CreatedAt: now,
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record version of %s: %w", nv.Path, err)
	}
	return v, nil
}

// Versions implements VersionLog.
func (s *SQLiteStore) Versions(ctx context.Context, path string, limit int) ([]Version, error) {
	q := `SELECT ` + versionColumns + ` FROM versions WHERE path = ? ORDER BY seq DESC`
	args := []any{path}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", path, err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VersionByKey implements VersionLog.
func (s *SQLiteStore) VersionByKey(ctx context.Context, path, key string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE path = ? AND vkey = ?`, path, key)
	return oneVersion(row)
}

// VersionBySeq implements VersionLog.
func (s *SQLiteStore) VersionBySeq(ctx context.Context, path string, seq int) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE path = ? AND seq = ?`, path, seq)
	return oneVersion(row)
}

// LatestVersion implements VersionLog.
func (s *SQLiteStore) LatestVersion(ctx context.Context, path string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE path = ? ORDER BY seq DESC LIMIT 1`, path)
	return oneVersion(row)
}

func scanVersion(sc scanner) (Version, error) {
	var v Version
	err := sc.Scan(&v.ID, &v.Key, &v.Path, &v.Seq, &v.Kind, &v.Summary, &v.Author, &v.Content, &v.CreatedAt)
	return v, err
}

// oneVersion converts sql.ErrNoRows to ErrNotFound.
func oneVersion(row *sql.Row) (*Version, error) {
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return &v, nil
}
