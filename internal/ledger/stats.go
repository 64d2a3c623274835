package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TableStats summarizes the ledger rows of one entity type.
type TableStats struct {
	TableName    string     `json:"tableName"`
	TotalRecords int64      `json:"totalRecords"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	PendingCount int64      `json:"pendingCount"`
	SyncedCount  int64      `json:"syncedCount"`
	FailedCount  int64      `json:"failedCount"`
}

// Stats returns per entity type counts ordered by entity type.
func (l *Ledger) Stats(ctx context.Context) ([]TableStats, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT entity_type,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'synced' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			MAX(last_sync_date)
		FROM sync_ledger
		GROUP BY entity_type
		ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := []TableStats{}
	for rows.Next() {
		var s TableStats
		var lastSync sql.NullString
		if err := rows.Scan(&s.TableName, &s.TotalRecords, &s.PendingCount, &s.SyncedCount, &s.FailedCount, &lastSync); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if s.LastSync, err = parseNullTime(lastSync); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// Totals sums a stats slice. Pending includes failed rows, matching what
// devices still have to pull.
func Totals(stats []TableStats) (synced, pending int64) {
	for _, s := range stats {
		synced += s.SyncedCount
		pending += s.PendingCount + s.FailedCount
	}
	return synced, pending
}
