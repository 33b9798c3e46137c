// Package database provides the SQLite connection used by the optional
// activity recorder.
//
// The bridge itself is stateless: nothing stored here is read back to
// restore device state. The database only answers "which units have been
// seen, and when".
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are plain SQL files embedded by the migrations package and
// applied in filename order, each in its own transaction.
package database
