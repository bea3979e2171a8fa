package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/mcgrid/internal/integrate"
)

// InsertRun records the start of an integration run.
func (db *DB) InsertRun(r *integrate.RunRecord) error {
	if r == nil || r.RunID == "" {
		return fmt.Errorf("run record needs a run ID")
	}
	configJSON := r.ConfigJSON
	if configJSON == "" {
		configJSON = "{}"
	}
	err := retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO integration_run (
				run_id, started_unix_nanos, finished_unix_nanos, integrand, config_json,
				iterations, samples, estimate, std_error, chi2_per_dof
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.StartedUnixNanos, r.FinishedUnixNanos, r.Integrand, configJSON,
			r.Iterations, r.Samples, r.Estimate, r.StdError, r.Chi2PerDoF,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// UpdateRun writes a run's progress and results.
func (db *DB) UpdateRun(r *integrate.RunRecord) error {
	if r == nil {
		return fmt.Errorf("nil run record")
	}
	var n int64
	err := retryOnBusy(func() error {
		res, err := db.Exec(`
			UPDATE integration_run SET
				finished_unix_nanos = ?, iterations = ?, samples = ?,
				estimate = ?, std_error = ?, chi2_per_dof = ?
			WHERE run_id = ?`,
			r.FinishedUnixNanos, r.Iterations, r.Samples,
			r.Estimate, r.StdError, r.Chi2PerDoF, r.RunID,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.RunID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", r.RunID, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, started_unix_nanos, finished_unix_nanos, integrand, config_json,
	iterations, samples, estimate, std_error, chi2_per_dof`

func scanRun(row interface{ Scan(...any) error }) (*integrate.RunRecord, error) {
	var r integrate.RunRecord
	var finished sql.NullInt64
	var estimate, stdErr, chi2 sql.NullFloat64
	if err := row.Scan(&r.RunID, &r.StartedUnixNanos, &finished, &r.Integrand, &r.ConfigJSON,
		&r.Iterations, &r.Samples, &estimate, &stdErr, &chi2); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedUnixNanos = &finished.Int64
	}
	if estimate.Valid {
		r.Estimate = &estimate.Float64
	}
	if stdErr.Valid {
		r.StdError = &stdErr.Float64
	}
	if chi2.Valid {
		r.Chi2PerDoF = &chi2.Float64
	}
	return &r, nil
}

// GetRun returns the run with the given ID.
func (db *DB) GetRun(runID string) (*integrate.RunRecord, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM integration_run WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, most recently started first.
func (db *DB) ListRuns(limit int) ([]*integrate.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM integration_run
		ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*integrate.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
