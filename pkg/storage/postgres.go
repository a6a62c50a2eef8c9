package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// OpenPostgres opens a postgres-backed Store at dsn. Used when more than
// one taskcored process needs to share state, e.g. a supervisor and a
// read-only inspection API running on separate hosts.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	return newSQLStore(db, "postgres"), nil
}
