// Package database provides the SQLite connection behind the event journal.
//
// The journal is history only: the bus registry itself is never persisted,
// so the database can be deleted at any time without affecting a running
// bus.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are embedded SQL files named
// YYYYMMDD_HHMMSS_description.{up,down}.sql. The migrations package
// registers them through MigrationsFS at init time.
package database
