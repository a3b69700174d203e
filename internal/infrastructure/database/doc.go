// Package database provides the SQLite connection behind the sqlite
// sample log format.
//
// This package manages:
//   - Opening the database file (or :memory: in tests) with WAL mode
//   - Versioned schema migrations embedded in the binary
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations live in the top-level migrations directory and register
// themselves through that package's init; import it for side effects:
//
//	import _ "github.com/nerrad567/rtr-telemetry/migrations"
package database
