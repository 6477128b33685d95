package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"image-pipeline/internal/pipeline"
)

var ErrRunNotFound = errors.New("run not found")

// RunRecord is one stored pipeline execution
type RunRecord struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	Steps          []string  `json:"steps"`
	Skipped        []string  `json:"skipped"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	Success        bool      `json:"success"`
	FailedOp       string    `json:"failed_op,omitempty"`
	FailedPosition *int      `json:"failed_position,omitempty"`
	ErrorMessage   string    `json:"error,omitempty"`
}

// Stats summarises stored runs
type Stats struct {
	TotalRuns    int     `json:"total_runs"`
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	AvgElapsedMS float64 `json:"avg_elapsed_ms"`
}

// RecordRun stores a finished run. It satisfies pipeline.Recorder.
func (db *DB) RecordRun(ctx context.Context, run pipeline.Run) error {
	steps, err := json.Marshal(nonNil(run.Steps))
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	skipped, err := json.Marshal(nonNil(run.Skipped))
	if err != nil {
		return fmt.Errorf("failed to encode skipped steps: %w", err)
	}

	var (
		failedOp       sql.NullString
		failedPosition sql.NullInt64
		errorMessage   sql.NullString
	)
	if run.Err != nil {
		errorMessage = sql.NullString{String: run.Err.Error(), Valid: true}
		if run.FailedOp != "" {
			failedOp = sql.NullString{String: run.FailedOp, Valid: true}
			failedPosition = sql.NullInt64{Int64: int64(run.FailedPosition), Valid: true}
		}
	}

	query := `
		INSERT INTO runs (
			id, started_at_ms, steps, step_count, skipped, elapsed_ms,
			success, failed_op, failed_position, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.conn.ExecContext(ctx, query,
		run.ID, run.StartedAt.UnixMilli(), string(steps), len(run.Steps), string(skipped),
		run.Elapsed.Round(time.Millisecond).Milliseconds(),
		run.Succeeded(), failedOp, failedPosition, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRuns retrieves runs newest first with pagination
func (db *DB) GetRuns(ctx context.Context, limit, offset int) ([]RunRecord, error) {
	query := `
		SELECT
			id, started_at_ms, steps, skipped, elapsed_ms,
			success, failed_op, failed_position, error_message
		FROM runs
		ORDER BY started_at_ms DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by id
func (db *DB) GetRun(ctx context.Context, id string) (RunRecord, error) {
	query := `
		SELECT
			id, started_at_ms, steps, skipped, elapsed_ms,
			success, failed_op, failed_position, error_message
		FROM runs
		WHERE id = ?
	`

	r, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrRunNotFound
	}
	return r, err
}

// GetStats aggregates every stored run
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(elapsed_ms), 0)
		FROM runs
	`

	var s Stats
	err := db.conn.QueryRowContext(ctx, query).Scan(&s.TotalRuns, &s.SuccessCount, &s.FailureCount, &s.AvgElapsedMS)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return s, nil
}

// DeleteBefore removes runs started before cutoff and returns how many went
func (db *DB) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM runs WHERE started_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		r              RunRecord
		startedAtMS    int64
		steps, skipped string
		failedOp       sql.NullString
		failedPosition sql.NullInt64
		errorMessage   sql.NullString
	)

	err := row.Scan(
		&r.ID, &startedAtMS, &steps, &skipped, &r.ElapsedMS,
		&r.Success, &failedOp, &failedPosition, &errorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("failed to scan run: %w", err)
	}

	r.StartedAt = time.UnixMilli(startedAtMS).UTC()
	if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
		return RunRecord{}, fmt.Errorf("failed to decode steps: %w", err)
	}
	if err := json.Unmarshal([]byte(skipped), &r.Skipped); err != nil {
		return RunRecord{}, fmt.Errorf("failed to decode skipped steps: %w", err)
	}
	if failedOp.Valid {
		r.FailedOp = failedOp.String
	}
	if failedPosition.Valid {
		pos := int(failedPosition.Int64)
		r.FailedPosition = &pos
	}
	if errorMessage.Valid {
		r.ErrorMessage = errorMessage.String
	}
	return r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
