package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunRecord is the persisted summary of one bulk sync run.
type RunRecord struct {
	ID           string          `json:"runId"`
	Mode         string          `json:"mode"`
	DeviceID     string          `json:"deviceId,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
	TotalRecords int             `json:"totalRecords"`
	DurationMs   int64           `json:"durationMs"`
	Success      bool            `json:"success"`
	Partial      bool            `json:"partial"`
	Superseded   bool            `json:"superseded"`
	Results      json.RawMessage `json:"results"`
}

const runColumns = `id, mode, device_id, started_at, finished_at, total_records, duration_ms,
	success, partial, superseded, results`

// InsertRun stores a run summary.
func (l *Ledger) InsertRun(ctx context.Context, r RunRecord) error {
	results := string(r.Results)
	if results == "" {
		results = "[]"
	}
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.DeviceID, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.TotalRecords, r.DurationMs, r.Success, r.Partial, r.Superseded, results)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func scanRun(s rowScanner) (RunRecord, error) {
	var r RunRecord
	var startedAt, finishedAt, results string
	if err := s.Scan(&r.ID, &r.Mode, &r.DeviceID, &startedAt, &finishedAt, &r.TotalRecords,
		&r.DurationMs, &r.Success, &r.Partial, &r.Superseded, &results); err != nil {
		return r, err
	}
	var err error
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return r, err
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return r, err
	}
	r.Results = json.RawMessage(results)
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with the given id, or nil if not found.
func (l *Ledger) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := l.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// LastSuccessfulRun returns the newest run that succeeded, or nil.
func (l *Ledger) LastSuccessfulRun(ctx context.Context) (*RunRecord, error) {
	row := l.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE success = 1 ORDER BY finished_at DESC, id DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last successful run: %w", err)
	}
	return &r, nil
}
