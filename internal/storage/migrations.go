package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

type migration struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

// schemaMigrations is the ordered history of the tidepool schema. Append
// only; released versions are never edited.
var schemaMigrations = []migration{
	{Version: 1, Name: "initial_schema", Apply: migrateV001},
}

// connPragmas are applied on every open before migrating.
var connPragmas = []struct {
	stmt string
	what string
}{
	{"PRAGMA journal_mode = WAL", "set WAL mode"},
	{"PRAGMA busy_timeout = 5000", "set busy timeout"},
}

// MigrationRunner brings a database up to the latest schema version.
type MigrationRunner struct {
	db         *sql.DB
	log        zerolog.Logger
	migrations []migration
}

// NewMigrationRunner returns a runner for db. Pass a logger to see which
// versions get applied; the default is silent.
func NewMigrationRunner(db *sql.DB, log ...zerolog.Logger) *MigrationRunner {
	r := &MigrationRunner{db: db, log: zerolog.Nop(), migrations: schemaMigrations}
	if len(log) > 0 {
		r.log = log[0]
	}
	return r
}

// Run applies every migration newer than what the database has recorded.
// Each migration commits in its own transaction together with its
// schema_migrations row, so a failure leaves earlier versions in place.
func (r *MigrationRunner) Run(ctx context.Context) error {
	for _, p := range connPragmas {
		if _, err := r.db.ExecContext(ctx, p.stmt); err != nil {
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}

	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	done, err := r.applied(ctx)
	if err != nil {
		return err
	}

	for _, m := range r.migrations {
		if done[m.Version] {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		r.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("schema migrated")
	}
	return nil
}

// Version returns the highest applied migration version, or 0 on a fresh
// database.
func (r *MigrationRunner) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

func (r *MigrationRunner) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.Apply(tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
