package database

// SQL migrations for the portfolio database.
// All migrations use IF NOT EXISTS to be idempotent.

// migrationSecrets stores provider credentials encrypted at rest.
const migrationSecrets = `
CREATE TABLE IF NOT EXISTS secrets (
    name TEXT PRIMARY KEY,
    ciphertext BLOB NOT NULL,
    nonce BLOB NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// migrationSyncHistory tracks fetch cycles for auditing
const migrationSyncHistory = `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    trigger_source TEXT NOT NULL,
    status TEXT NOT NULL,
    positions_synced INTEGER DEFAULT 0,
    positions_skipped INTEGER DEFAULT 0,
    error_message TEXT,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    duration_ms INTEGER
);
`

// migrationSnapshots keeps published aggregates for warm starts.
const migrationSnapshots = `
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    currency TEXT NOT NULL,
    total_balance REAL NOT NULL,
    total_cost_basis REAL NOT NULL,
    payload TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_sync_history_provider ON sync_history(provider, started_at);
CREATE INDEX IF NOT EXISTS idx_sync_history_cycle ON sync_history(cycle_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON portfolio_snapshots(created_at);
`
