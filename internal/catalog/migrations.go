package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/latchkey-labs/pileup/internal/common"
)

// ExpectedSchemaVersion is the latest schema version this build expects.
// A catalog that cannot be migrated up to this version is a fatal error.
const ExpectedSchemaVersion = 3

// migration is one schema step, applied inside its own transaction.
type migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []migration{
	{
		Version:     1,
		Description: "files, folders, and their hint metadata",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS folders (
					path TEXT PRIMARY KEY,
					parent_path TEXT NOT NULL,
					depth INTEGER NOT NULL,
					file_count INTEGER NOT NULL DEFAULT 0,
					subfolder_count INTEGER NOT NULL DEFAULT 0,
					aggregate_hash TEXT,
					action TEXT NOT NULL DEFAULT 'unknown',
					source TEXT,
					category_path TEXT,
					metadata_json TEXT,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_path)`,
				`CREATE INDEX IF NOT EXISTS idx_folders_depth ON folders(depth)`,
				`CREATE INDEX IF NOT EXISTS idx_folders_hash ON folders(aggregate_hash)`,

				`CREATE TABLE IF NOT EXISTS files (
					path TEXT PRIMARY KEY,
					folder_path TEXT NOT NULL,
					mime TEXT,
					content_hash TEXT,
					size INTEGER NOT NULL DEFAULT 0,
					mod_time DATETIME,
					metadata_json TEXT,
					category_path TEXT,
					classification_source TEXT,
					confidence REAL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_files_folder ON files(folder_path)`,
				`CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash)`,
			}
			for _, q := range queries {
				if _, err := tx.Exec(q); err != nil {
					return fmt.Errorf("executing %q: %w", q, err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "duplicate groups keyed by aggregate hash",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS duplicate_groups (
					id TEXT PRIMARY KEY,
					aggregate_hash TEXT UNIQUE NOT NULL,
					canonical_path TEXT NOT NULL,
					members_json TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_duplicate_groups_hash ON duplicate_groups(aggregate_hash)`,
			}
			for _, q := range queries {
				if _, err := tx.Exec(q); err != nil {
					return fmt.Errorf("executing %q: %w", q, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "plan entries, the system's final output",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS plan_entries (
					id TEXT PRIMARY KEY,
					source_path TEXT NOT NULL,
					target_path TEXT NOT NULL,
					operation TEXT NOT NULL,
					duplicate_of TEXT,
					originating_source TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_plan_entries_source ON plan_entries(source_path)`,
			}
			for _, q := range queries {
				if _, err := tx.Exec(q); err != nil {
					return fmt.Errorf("executing %q: %w", q, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies every pending migration in order inside its own
// transaction, tracking progress via SQLite's PRAGMA user_version rather
// than a separate schema_info table: crumbs re-applies schema.sql fresh
// on every open and carries no version column at all, so there is no
// pack precedent to imitate for incremental migrations.
func (s *Store) Migrate(ctx context.Context) error {
	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("%w: reading schema version: %v", common.ErrCatalog, err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: beginning migration %d: %v", common.ErrCatalog, m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: migration %d (%s) failed: %v", common.ErrCatalog, m.Version, m.Description, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: recording schema version %d: %v", common.ErrCatalog, m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: committing migration %d: %v", common.ErrCatalog, m.Version, err)
		}
		common.LogInfo("catalog_migration_applied", common.Fields{"version": m.Version, "description": m.Description})
	}

	var finalVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("%w: verifying final schema version: %v", common.ErrCatalog, err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("%w: schema version mismatch, expected %d got %d", common.ErrCatalog, ExpectedSchemaVersion, finalVersion)
	}
	return nil
}
