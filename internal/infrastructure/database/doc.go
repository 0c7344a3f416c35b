// Package database provides SQLite storage with embedded migrations.
//
// # Features
//
//   - WAL journal mode for concurrent readers alongside the single writer
//   - Busy timeout and foreign key enforcement configured on open
//   - Versioned schema migrations embedded into the binary
//   - Restrictive file permissions (0600) on the database file
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: "./data/bacore.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the migrations package and register themselves
// via an init() that assigns MigrationsFS.
package database
