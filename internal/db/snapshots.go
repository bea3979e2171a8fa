package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/mcgrid/internal/grid"
)

// InsertGridSnapshot stores s and sets its SnapshotID.
func (db *DB) InsertGridSnapshot(s *grid.Snapshot) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil snapshot")
	}
	var id int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`
			INSERT INTO grid_snapshot (
				run_id, taken_unix_nanos, dimension, max_leaves, mode,
				leaf_count, norm, iteration, grid_blob, snapshot_reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.RunID, s.TakenUnixNanos, s.Dimension, s.MaxLeaves, s.Mode,
			s.LeafCount, s.Norm, s.Iteration, s.GridBlob, s.Reason,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert grid snapshot: %w", err)
	}
	s.SnapshotID = &id
	return id, nil
}

const snapshotColumns = `snapshot_id, run_id, taken_unix_nanos, dimension, max_leaves, mode,
	leaf_count, norm, iteration, grid_blob, snapshot_reason`

func scanSnapshot(row interface{ Scan(...any) error }) (*grid.Snapshot, error) {
	var s grid.Snapshot
	var id int64
	if err := row.Scan(&id, &s.RunID, &s.TakenUnixNanos, &s.Dimension, &s.MaxLeaves, &s.Mode,
		&s.LeafCount, &s.Norm, &s.Iteration, &s.GridBlob, &s.Reason); err != nil {
		return nil, err
	}
	s.SnapshotID = &id
	return &s, nil
}

// GetGridSnapshot returns the snapshot with the given ID.
func (db *DB) GetGridSnapshot(id int64) (*grid.Snapshot, error) {
	s, err := scanSnapshot(db.QueryRow(
		`SELECT `+snapshotColumns+` FROM grid_snapshot WHERE snapshot_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grid snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan grid snapshot: %w", err)
	}
	return s, nil
}

// LatestGridSnapshot returns the most recent snapshot of a run.
func (db *DB) LatestGridSnapshot(runID string) (*grid.Snapshot, error) {
	s, err := scanSnapshot(db.QueryRow(`
		SELECT `+snapshotColumns+` FROM grid_snapshot
		WHERE run_id = ?
		ORDER BY taken_unix_nanos DESC, snapshot_id DESC
		LIMIT 1`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grid snapshot for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan grid snapshot: %w", err)
	}
	return s, nil
}

// ListGridSnapshots returns up to limit snapshots, newest first. An empty
// runID lists every run. GridBlob is left empty; use GetGridSnapshot for
// the tree itself.
func (db *DB) ListGridSnapshots(runID string, limit int) ([]*grid.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT snapshot_id, run_id, taken_unix_nanos, dimension, max_leaves, mode,
		       leaf_count, norm, iteration, x'', snapshot_reason
		FROM grid_snapshot
		WHERE ? = '' OR run_id = ?
		ORDER BY taken_unix_nanos DESC, snapshot_id DESC
		LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query grid snapshots: %w", err)
	}
	defer rows.Close()

	var out []*grid.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grid snapshot: %w", err)
		}
		s.GridBlob = nil
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteGridSnapshots removes every snapshot of a run but the newest keep
// and returns how many were deleted.
func (db *DB) DeleteGridSnapshots(runID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var n int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`
			DELETE FROM grid_snapshot
			WHERE run_id = ?
			  AND snapshot_id NOT IN (
				SELECT snapshot_id FROM grid_snapshot
				WHERE run_id = ?
				ORDER BY taken_unix_nanos DESC, snapshot_id DESC
				LIMIT ?
			  )`, runID, runID, keep)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete grid snapshots: %w", err)
	}
	return n, nil
}
