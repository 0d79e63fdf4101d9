package structuredstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roosniffer/roosniffer/internal/record"
)

// Repo owns the single SQLite database backing the structured store.
type Repo struct {
	db *sql.DB
}

// OpenRepo opens (creating if necessary) the database at dir/observations.db
// and applies migrations.
func OpenRepo(dir string) (*Repo, error) {
	path := filepath.Join(dir, "observations.db")
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close closes the underlying database handle.
func (r *Repo) Close() error {
	return r.db.Close()
}

// InsertBatch inserts a batch of records in a single transaction, returning
// the number of rows inserted. Individual row failures are skipped rather
// than aborting the whole batch, matching the teacher's requestlog.Repo
// behavior.
func (r *Repo) InsertBatch(records []*record.Request) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("structuredstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// A record is written twice (request event, then response event once
	// status arrives) — upsert on id so the second write fills in
	// status_code/response_preview on the existing row instead of being
	// silently ignored, per spec.md's "status_code may only be set once,
	// after the record has been emitted once as a request event" model.
	stmt, err := tx.Prepare(`INSERT INTO observations (
		id, ts_ns, method, host, path, watched,
		headers_json, body_preview, status_code, response_preview
	) VALUES (?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
		status_code = excluded.status_code,
		response_preview = excluded.response_preview`)
	if err != nil {
		return 0, fmt.Errorf("structuredstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		id := rec.ID
		if id == (uuid.UUID{}) {
			id = uuid.New()
		}

		var headersJSON sql.NullString
		if len(rec.Headers) > 0 {
			if b, err := json.Marshal(rec.Headers); err == nil {
				headersJSON = sql.NullString{String: string(b), Valid: true}
			}
		}

		watched := 0
		if rec.Watched {
			watched = 1
		}

		_, err := stmt.Exec(
			id.String(), rec.Time.UnixNano(), rec.Method, rec.Host, rec.Path, watched,
			headersJSON, rec.BodyPreview, rec.StatusCode, rec.ResponsePreview,
		)
		if err != nil {
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("structuredstore: commit: %w", err)
	}
	return inserted, nil
}
