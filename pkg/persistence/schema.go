package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is bumped with every structural change; migrations
// bring older databases forward.
const CurrentSchemaVersion = 1

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS tests (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	module      TEXT NOT NULL,
	class       TEXT NOT NULL DEFAULT '',
	object      TEXT NOT NULL,
	history     TEXT NOT NULL,
	test        TEXT NOT NULL,
	report      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tests_target ON tests(module, class, object);

CREATE TABLE IF NOT EXISTS token_usage (
	model             TEXT PRIMARY KEY,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// initializeSchema ensures the schema exists and is at the current version.
func initializeSchema(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version == 0 {
		if _, err := db.Exec(createTablesSQL); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return setSchemaVersion(db, CurrentSchemaVersion)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}
	return runMigrations(db, version, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(_ *sql.DB, version int) error {
	switch version {
	case 1:
		return nil // base schema, nothing to migrate
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("pragma user_version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
