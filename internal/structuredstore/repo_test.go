package structuredstore

import (
	"testing"

	"github.com/roosniffer/roosniffer/internal/record"
)

func TestOpenRepoAppliesMigrations(t *testing.T) {
	dir := t.TempDir()
	repo, err := OpenRepo(dir)
	if err != nil {
		t.Fatalf("OpenRepo: %v", err)
	}
	defer repo.Close()

	r := record.New("GET", "example.test", "/", false)
	n, err := repo.InsertBatch([]*record.Request{r})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}
}

func TestInsertBatchUpsertsResponseFields(t *testing.T) {
	dir := t.TempDir()
	repo, err := OpenRepo(dir)
	if err != nil {
		t.Fatalf("OpenRepo: %v", err)
	}
	defer repo.Close()

	r := record.New("POST", "api.example.test", "/v1/m", true)
	if _, err := repo.InsertBatch([]*record.Request{r}); err != nil {
		t.Fatalf("first InsertBatch (request event): %v", err)
	}

	r.SetResponse(200, []byte("hi"), true)
	if _, err := repo.InsertBatch([]*record.Request{r}); err != nil {
		t.Fatalf("second InsertBatch (response event): %v", err)
	}

	var statusCode int
	row := repo.db.QueryRow("SELECT status_code FROM observations WHERE id = ?", r.ID.String())
	if err := row.Scan(&statusCode); err != nil {
		t.Fatalf("scan status_code: %v", err)
	}
	if statusCode != 200 {
		t.Errorf("status_code = %d, want 200", statusCode)
	}

	var count int
	if err := repo.db.QueryRow("SELECT COUNT(*) FROM observations").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 (upsert, not duplicate insert)", count)
	}
}
