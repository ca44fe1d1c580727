package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// Migration is one versioned schema change.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string // description part of the file name
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every pending migration in fsys, oldest first. Each
// migration runs in its own transaction; a failure leaves earlier ones
// committed and stops.
//
// Parameters:
//   - ctx: Context for cancellation
//   - fsys: Filesystem holding the .sql files at its root (see package migrations)
//
// Returns:
//   - int: Number of migrations applied
//   - error: The first failure
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}

	pending, err := db.pending(ctx, fsys)
	if err != nil {
		return 0, err
	}

	for i, m := range pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return i, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return len(pending), nil
}

// MigrateDown rolls back the most recently applied migration.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	applied, err := db.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	var target *Migration
	for i := range all {
		if all[i].Version == latest {
			target = &all[i]
			break
		}
	}
	switch {
	case target == nil:
		return fmt.Errorf("migration %s not found", latest)
	case target.DownSQL == "":
		return fmt.Errorf("migration %s has no down SQL", latest)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return err
	})
}

// MigrationStatus returns applied and pending migrations.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) ([]MigrationRecord, []Migration, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := db.applied(ctx)
	if err != nil {
		return nil, nil, err
	}
	pending, err := db.pending(ctx, fsys)
	if err != nil {
		return nil, nil, err
	}
	return applied, pending, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

func (db *DB) applied(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var at string
		if err := rows.Scan(&r.Version, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) pending(ctx context.Context, fsys fs.FS) ([]Migration, error) {
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	applied, err := db.applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}

	var out []Migration
	for _, m := range all {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out, nil
}

// LoadMigrations reads migration files from the root of fsys, sorted by
// version. A nil fsys yields no migrations. A .down.sql without an .up.sql
// is ignored.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Clean(e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if up {
			m.Name = name
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL != "" {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationFilename splits "20260301_090000_event_log.up.sql" into
// ("20260301_090000", "event_log", true).
func parseMigrationFilename(file string) (version, name string, up, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false, false
	}
	if b, isUp := strings.CutSuffix(base, ".up"); isUp {
		base, up = b, true
	} else if b, isDown := strings.CutSuffix(base, ".down"); isDown {
		base = b
	} else {
		return "", "", false, false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 2 || len(parts[0]) != 8 || len(parts[1]) != 6 {
		return "", "", false, false
	}
	version = parts[0] + "_" + parts[1]
	if len(parts) == 3 {
		name = parts[2]
	}
	return version, name, up, true
}
