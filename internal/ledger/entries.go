package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction is the flow of one ledger tuple.
type Direction string

const (
	// Down is authoritative store to device delivery.
	Down Direction = "down"
	// Up is a device to authoritative store proposal.
	Up Direction = "up"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Down || d == Up
}

// Status is the delivery state of one ledger tuple.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Key identifies exactly one ledger row.
type Key struct {
	EntityType string
	EntityID   string
	DeviceID   string
	Direction  Direction
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s(%s)", k.EntityType, k.EntityID, k.DeviceID, k.Direction)
}

// Entry is one row of the sync ledger.
type Entry struct {
	ID           int64      `json:"id"`
	EntityType   string     `json:"entityType"`
	EntityID     string     `json:"entityId"`
	DeviceID     string     `json:"deviceId"`
	Direction    Direction  `json:"syncDirection"`
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retryCount"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	LastSyncDate *time.Time `json:"lastSyncDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Key returns the unique tuple of the entry.
func (e Entry) Key() Key {
	return Key{EntityType: e.EntityType, EntityID: e.EntityID, DeviceID: e.DeviceID, Direction: e.Direction}
}

const entryColumns = `id, entity_type, entity_id, device_id, sync_direction, status, retry_count,
	error_message, last_sync_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (Entry, error) {
	var e Entry
	var errMsg, lastSync sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.DeviceID, &e.Direction, &e.Status,
		&e.RetryCount, &errMsg, &lastSync, &createdAt, &updatedAt); err != nil {
		return e, err
	}
	if errMsg.Valid {
		e.ErrorMessage = errMsg.String
	}
	var err error
	if e.LastSyncDate, err = parseNullTime(lastSync); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, err
	}
	return e, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SeedMode selects how a bulk seed treats rows that already exist.
type SeedMode int

const (
	// SeedMissing inserts rows that do not exist and leaves existing rows untouched.
	SeedMissing SeedMode = iota
	// SeedReset inserts missing rows and resets existing rows to pending.
	SeedReset
)

const seedMissingSQL = `
	INSERT INTO sync_ledger (entity_type, entity_id, device_id, sync_direction, status, retry_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)
	ON CONFLICT(entity_type, entity_id, device_id, sync_direction) DO NOTHING`

const seedResetSQL = `
	INSERT INTO sync_ledger (entity_type, entity_id, device_id, sync_direction, status, retry_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)
	ON CONFLICT(entity_type, entity_id, device_id, sync_direction)
	DO UPDATE SET status = 'pending', retry_count = 0, error_message = NULL, updated_at = excluded.updated_at`

// Seed writes pending rows for ids on one device in a single transaction.
// It returns the number of rows inserted or reset. Either every row of the
// batch is written or none is.
func (l *Ledger) Seed(ctx context.Context, mode SeedMode, entityType, deviceID string, dir Direction, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := seedMissingSQL
	if mode == SeedReset {
		query = seedResetSQL
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("seed %s: begin: %w", entityType, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("seed %s: prepare: %w", entityType, err)
	}
	defer stmt.Close()

	now := l.stamp()
	var written int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, entityType, id, deviceID, string(dir), now, now)
		if err != nil {
			return 0, fmt.Errorf("seed %s/%s: %w", entityType, id, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("seed %s: commit: %w", entityType, err)
	}
	return written, nil
}

const markSyncedSQL = `
	INSERT INTO sync_ledger (entity_type, entity_id, device_id, sync_direction, status, retry_count, error_message, last_sync_date, created_at, updated_at)
	VALUES (?, ?, ?, ?, 'synced', 0, NULL, ?, ?, ?)
	ON CONFLICT(entity_type, entity_id, device_id, sync_direction)
	DO UPDATE SET status = 'synced', error_message = NULL,
		last_sync_date = excluded.last_sync_date, updated_at = excluded.updated_at`

const markFailedSQL = `
	INSERT INTO sync_ledger (entity_type, entity_id, device_id, sync_direction, status, retry_count, error_message, created_at, updated_at)
	VALUES (?, ?, ?, ?, 'failed', 1, ?, ?, ?)
	ON CONFLICT(entity_type, entity_id, device_id, sync_direction)
	DO UPDATE SET status = 'failed', retry_count = sync_ledger.retry_count + 1,
		error_message = excluded.error_message, updated_at = excluded.updated_at`

// MarkSynced records a successful delivery. An untracked tuple is created
// directly as synced; retry_count of an existing row is left unchanged.
func (l *Ledger) MarkSynced(ctx context.Context, k Key) error {
	return markSynced(ctx, l.conn, k, l.stamp())
}

// MarkFailed records a failed delivery, incrementing retry_count.
func (l *Ledger) MarkFailed(ctx context.Context, k Key, errMsg string) error {
	return markFailed(ctx, l.conn, k, errMsg, l.stamp())
}

func markSynced(ctx context.Context, ex execer, k Key, now string) error {
	_, err := ex.ExecContext(ctx, markSyncedSQL,
		k.EntityType, k.EntityID, k.DeviceID, string(k.Direction), now, now, now)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", k, err)
	}
	return nil
}

func markFailed(ctx context.Context, ex execer, k Key, errMsg, now string) error {
	_, err := ex.ExecContext(ctx, markFailedSQL,
		k.EntityType, k.EntityID, k.DeviceID, string(k.Direction), errMsg, now, now)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", k, err)
	}
	return nil
}

// Outcome is one acknowledgement inside a batch.
type Outcome struct {
	Key          Key
	Failed       bool
	ErrorMessage string
}

// ApplyOutcomes writes a batch of acknowledgements in one transaction.
func (l *Ledger) ApplyOutcomes(ctx context.Context, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply outcomes: begin: %w", err)
	}
	defer tx.Rollback()

	now := l.stamp()
	for _, o := range outcomes {
		if o.Failed {
			err = markFailed(ctx, tx, o.Key, o.ErrorMessage, now)
		} else {
			err = markSynced(ctx, tx, o.Key, now)
		}
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply outcomes: commit: %w", err)
	}
	return nil
}

// Get returns the row for k, or nil if it is not tracked.
func (l *Ledger) Get(ctx context.Context, k Key) (*Entry, error) {
	row := l.conn.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM sync_ledger
		WHERE entity_type = ? AND entity_id = ? AND device_id = ? AND sync_direction = ?`,
		k.EntityType, k.EntityID, k.DeviceID, string(k.Direction))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", k, err)
	}
	return &e, nil
}

// PendingFilter narrows a pending query. DeviceID is required.
type PendingFilter struct {
	DeviceID   string
	EntityType string
	Direction  Direction
	// MaxRetries > 0 excludes failed rows whose retry_count reached it.
	MaxRetries int
	Limit      int
}

// Pending lists pending and failed rows for a device, oldest update first.
func (l *Ledger) Pending(ctx context.Context, f PendingFilter) ([]Entry, error) {
	conditions := []string{"device_id = ?", "status IN ('pending', 'failed')"}
	args := []any{f.DeviceID}

	if f.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.Direction != "" {
		conditions = append(conditions, "sync_direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.MaxRetries > 0 {
		conditions = append(conditions, "NOT (status = 'failed' AND retry_count >= ?)")
		args = append(args, f.MaxRetries)
	}

	query := `SELECT ` + entryColumns + ` FROM sync_ledger WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY updated_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return l.queryEntries(ctx, "pending", query, args...)
}

// DeadLetter lists failed rows whose retry_count reached maxRetries.
// An empty deviceID lists every device.
func (l *Ledger) DeadLetter(ctx context.Context, deviceID string, maxRetries, limit int) ([]Entry, error) {
	if maxRetries <= 0 {
		return []Entry{}, nil
	}
	query := `SELECT ` + entryColumns + ` FROM sync_ledger WHERE status = 'failed' AND retry_count >= ?`
	args := []any{maxRetries}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY updated_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return l.queryEntries(ctx, "dead letter", query, args...)
}

func (l *Ledger) queryEntries(ctx context.Context, op, query string, args ...any) ([]Entry, error) {
	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", op, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return entries, nil
}

// Sweep deletes synced rows last updated before now minus olderThan.
// Pending and failed rows are never deleted. Returns the number of rows deleted.
func (l *Ledger) Sweep(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("sweep ledger: negative age %d", maxAgeDays)
	}
	cutoff := formatTime(l.now().AddDate(0, 0, -maxAgeDays))
	res, err := l.conn.ExecContext(ctx,
		`DELETE FROM sync_ledger WHERE status = 'synced' AND updated_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
