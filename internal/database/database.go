package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// New creates a new database connection
func New(dsn string, log zerolog.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, log: log.With().Str("component", "database").Logger()}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.migrateSchema(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// createTables creates the necessary tables
func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cleanup_rules (
			channel_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			interval_days INT NOT NULL DEFAULT 0,
			interval_minutes INT NOT NULL DEFAULT 0,
			next_run TIMESTAMPTZ NOT NULL,
			last_run TIMESTAMPTZ,
			PRIMARY KEY (channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_channels (
			channel_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'simple',
			override_roles TEXT[] NOT NULL DEFAULT '{}',
			target_roles TEXT[] NOT NULL DEFAULT '{}',
			log_channel_id TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (channel_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// migrateSchema handles database schema migrations
func (db *DB) migrateSchema() error {
	migrations := []string{
		// Early versions kept the interval as a single minute count.
		`ALTER TABLE cleanup_rules ADD COLUMN IF NOT EXISTS interval_days INT NOT NULL DEFAULT 0`,
		`ALTER TABLE cleanup_rules ADD COLUMN IF NOT EXISTS interval_minutes INT NOT NULL DEFAULT 0`,
		`UPDATE cleanup_rules SET interval_days = interval_min / 1440, interval_minutes = interval_min % 1440
		 WHERE interval_days = 0 AND interval_minutes = 0 AND EXISTS (
			SELECT 1 FROM information_schema.columns WHERE table_name='cleanup_rules' AND column_name='interval_min'
		)`,
		`ALTER TABLE cleanup_rules DROP COLUMN IF EXISTS interval_min`,

		// Tracked channels gained override support after the first release.
		`ALTER TABLE tracked_channels ADD COLUMN IF NOT EXISTS override_roles TEXT[] NOT NULL DEFAULT '{}'`,
		`ALTER TABLE tracked_channels ADD COLUMN IF NOT EXISTS target_roles TEXT[] NOT NULL DEFAULT '{}'`,
		`ALTER TABLE tracked_channels ADD COLUMN IF NOT EXISTS log_channel_id TEXT NOT NULL DEFAULT ''`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			db.log.Warn().Err(err).Msg("migration failed (this might be expected)")
		}
	}

	return nil
}
