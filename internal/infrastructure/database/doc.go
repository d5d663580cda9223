// Package database provides the SQLite connection used for the accessory
// cache and the appliance state history.
//
// The database runs in WAL mode with a single open connection, so readers
// never block the history writer for long. The file is created with 0600
// permissions.
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
// Migrations are additive. Each .up.sql has a matching .down.sql, used only
// by MigrateDown during development.
package database
