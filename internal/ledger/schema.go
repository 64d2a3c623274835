package ledger

// SchemaVersion is the current ledger database schema version
const SchemaVersion = 2

const ledgerSchema = `
-- One row per entity, device and direction
CREATE TABLE IF NOT EXISTS sync_ledger (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    sync_direction TEXT NOT NULL DEFAULT 'down' CHECK(sync_direction IN ('down', 'up')),
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'synced', 'failed')),
    retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
    error_message TEXT,
    last_sync_date TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(entity_type, entity_id, device_id, sync_direction)
);

-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_sync_ledger_device_status ON sync_ledger(device_id, status);
CREATE INDEX IF NOT EXISTS idx_sync_ledger_updated ON sync_ledger(updated_at);
`

// Migration defines a ledger database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all ledger database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add sync_runs table for bulk run history",
		SQL: `CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL CHECK(mode IN ('initial', 'full')),
			device_id TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			partial INTEGER NOT NULL DEFAULT 0,
			superseded INTEGER NOT NULL DEFAULT 0,
			results TEXT NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_sync_runs_finished ON sync_runs(finished_at);`,
	},
}
