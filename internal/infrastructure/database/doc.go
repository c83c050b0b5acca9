// Package database owns Conduit's SQLite storage: the connection event
// journal and device state history live here, behind a single pooled
// writer connection.
//
// The handle is opened with WAL mode so journal reads proceed while the
// recorder writes, and a busy timeout instead of immediate lock errors.
// The database file is chmodded to 0600; it records which devices exist
// on the site and when they were reachable.
//
// Schema changes ship as embedded migrations:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Files); err != nil {
//	    return err
//	}
//
// Migrations are additive where possible: new columns are nullable or
// carry defaults, and every up file should bring a down file so
// development databases can roll back.
package database
