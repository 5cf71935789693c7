package gorm

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go driver, registered under the "sqlite" name
)

// OpenTestDB opens an in-process SQLite database for package tests that need a real
// database/sql connection without a Postgres fixture (e.g. exercising the queue claim
// semantics or pagination helpers). It deliberately bypasses GORM: the production Store is
// Postgres/pgvector-only, and this is a lighter-weight harness for the SQL that is portable.
func OpenTestDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open test sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping test sqlite db: %w", err)
	}
	return db, nil
}
