// Package structuredstore implements the optional secondary observation
// sink (C8): a queryable, rolling-free SQLite store of every RequestRecord,
// written through the same async-batched-queue shape the teacher uses for
// its request log, but with a schema applied via golang-migrate instead of
// a hand-rolled DDL exec.
package structuredstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// openDB opens (or creates) a SQLite database at path with the same
// recommended pragmas as the teacher's state.OpenDB: WAL journal mode,
// synchronous=NORMAL, foreign_keys=ON, busy_timeout=5000.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("structuredstore: open db %s: %w", path, err)
	}

	// Single-writer: the async queue is the only writer, so one connection
	// is sufficient and avoids SQLITE_BUSY under modernc.org/sqlite's driver.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("structuredstore: exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}
