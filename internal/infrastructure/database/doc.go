// Package database provides SQLite connectivity for the fingerprint core.
//
// It manages:
//   - The connection, with WAL mode and a busy timeout
//   - Embedded schema migrations (YYYYMMDD_HHMMSS_name.up.sql / .down.sql)
//   - Health checks for the /health endpoint
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600
//   - Template blobs are sealed by the caller before they reach SQL
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
