package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (creating if necessary) a sqlite-backed Store at dsn,
// a filesystem path or ":memory:". This is the default storage driver for
// a single taskcored instance.
func OpenSQLite(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers; avoid SQLITE_BUSY under our own load

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return newSQLStore(db, "sqlite3"), nil
}
