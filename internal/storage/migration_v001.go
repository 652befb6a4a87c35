package storage

import "database/sql"

// migrateV001 creates the initial schema: one table per durable namespace
// plus the persisted cache. Every statement uses IF NOT EXISTS for
// idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS actions (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			kind        TEXT NOT NULL CHECK (kind IN ('CREATE', 'UPDATE', 'DELETE')),
			endpoint    TEXT NOT NULL,
			method      TEXT NOT NULL,
			headers     TEXT NOT NULL DEFAULT '{}',
			body        BLOB,
			created_at  INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS content (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT '',
			last_modified INTEGER NOT NULL DEFAULT 0,
			synced        BOOLEAN NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS analytics_batches (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			payload     BLOB NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			size_bytes  INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key           TEXT PRIMARY KEY,
			value         TEXT NOT NULL,
			last_modified INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cache_entries (
			key              TEXT PRIMARY KEY,
			data             BLOB NOT NULL,
			created_at       INTEGER NOT NULL,
			expires_at       INTEGER NOT NULL DEFAULT 0,
			size_bytes       INTEGER NOT NULL DEFAULT 0,
			access_count     INTEGER NOT NULL DEFAULT 0,
			last_accessed_at INTEGER NOT NULL,
			priority         INTEGER NOT NULL DEFAULT 2,
			tags             TEXT NOT NULL DEFAULT '[]',
			compressed       BOOLEAN NOT NULL DEFAULT 0,
			encrypted        BOOLEAN NOT NULL DEFAULT 0
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_actions_created_at ON actions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_content_synced     ON content(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_created_at ON analytics_batches(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at   ON cache_entries(expires_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
