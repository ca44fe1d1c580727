// Package database provides the SQLite connection used for session and
// event history.
//
// It manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Versioned migrations read from any fs.FS (normally the embedded
//     migrations package)
//   - Transaction helper and health check
//
// All queries use parameterised statements. The database file is created
// with mode 0600.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or defaulted, and each
// .up.sql ships with a .down.sql.
package database
