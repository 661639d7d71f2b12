package gep

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// openSQLite opens a single-connection database and applies the schema.
// Every role drives its database from one event loop, so one connection is
// enough and keeps per-connection pragmas in force.
func openSQLite(path string, schema []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("gep: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	stmts := append([]string{"PRAGMA foreign_keys = ON"}, schema...)
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("gep: init %s: %w", path, err)
		}
	}
	return db, nil
}
