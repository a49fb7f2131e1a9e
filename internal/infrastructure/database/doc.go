// Package database provides SQLite connectivity for doorgate.
//
// It owns the connection pragmas (WAL, busy timeout, foreign keys), the
// single-connection pool and a small migration runner over an fs.FS of
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql files.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
