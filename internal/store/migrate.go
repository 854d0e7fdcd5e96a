package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var migrationFile = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type migration struct {
	version string
	name    string
	path    string
}

// listMigrations returns the files for one direction sorted by version,
// ascending for up and descending for down.
func listMigrations(dir, direction string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	items := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		items = append(items, migration{
			version: match[1],
			name:    entry.Name(),
			path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if direction == "down" {
			return items[i].version > items[j].version
		}
		return items[i].version < items[j].version
	})
	return items, nil
}

// ApplyMigrations runs every *.up.sql file not yet recorded in
// schema_migrations, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	ups, err := listMigrations(migrationsDir, "up")
	if err != nil {
		return err
	}
	for _, m := range ups {
		var applied bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, m.name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}
		if err := runMigration(ctx, db, m, `INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
			return err
		}
	}
	return nil
}

// RollbackMigrations runs every *.down.sql file newest first and clears the
// matching schema_migrations rows.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	downs, err := listMigrations(migrationsDir, "down")
	if err != nil {
		return err
	}
	for _, m := range downs {
		if err := runMigration(ctx, db, m, `DELETE FROM schema_migrations WHERE version LIKE $1 || '_%'`, m.version); err != nil {
			return err
		}
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration, record string, recordArgs ...any) error {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.name, err)
	}
	if len(recordArgs) == 0 {
		recordArgs = []any{m.name}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, record, recordArgs...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}
