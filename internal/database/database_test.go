package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iabetor/feedagg/internal/rss"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "runs.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", path)
	}
	if db.Path() != path {
		t.Errorf("Path: got %q, want %q", db.Path(), path)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	report := rss.Report{
		Attempted: 3,
		Collected: 4,
		Items: []rss.Item{
			{Source: "A", Title: "newest", Link: "https://a/1", Published: "2024-01-03T00:00:00Z"},
			{Source: "B", Title: "older", Published: "2024-01-01T00:00:00Z", Summary: "s"},
		},
		Skipped: []rss.SkippedSource{
			{Source: rss.Source{URL: "https://down.example.com", Title: "Down"}, Reason: "request: refused"},
		},
	}

	id, err := db.RecordRun(ctx, time.Now().Add(-time.Second), "news.json", report)
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected run id")
	}

	run, err := db.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if run == nil || run.ID != id {
		t.Fatalf("expected latest run %s, got %+v", id, run)
	}
	if run.Attempted != 3 || run.Collected != 4 || run.Written != 2 || run.OutputPath != "news.json" {
		t.Errorf("unexpected run summary: %+v", run)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT source, title, link, published, summary FROM run_items WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		t.Fatalf("query run_items failed: %v", err)
	}
	defer rows.Close()
	var items []rss.Item
	for rows.Next() {
		var it rss.Item
		if err := rows.Scan(&it.Source, &it.Title, &it.Link, &it.Published, &it.Summary); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		items = append(items, it)
	}
	if len(items) != 2 || items[0] != report.Items[0] || items[1] != report.Items[1] {
		t.Errorf("items should be stored in output order: %+v", items)
	}

	counts, err := db.FailureCounts(ctx)
	if err != nil {
		t.Fatalf("FailureCounts failed: %v", err)
	}
	if counts["https://down.example.com"] != 1 {
		t.Errorf("expected 1 failure, got %v", counts)
	}
}

func TestLatestRunEmpty(t *testing.T) {
	db := newTestDB(t)
	run, err := db.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil, got %+v", run)
	}
}

func TestFailureCountsAccumulate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	skipped := rss.Report{Attempted: 1, Skipped: []rss.SkippedSource{
		{Source: rss.Source{URL: "https://flaky"}, Reason: "status: HTTP 500"},
	}}

	for i := 0; i < 3; i++ {
		if _, err := db.RecordRun(ctx, time.Now(), "news.json", skipped); err != nil {
			t.Fatalf("RecordRun #%d failed: %v", i, err)
		}
	}

	counts, err := db.FailureCounts(ctx)
	if err != nil {
		t.Fatalf("FailureCounts failed: %v", err)
	}
	if counts["https://flaky"] != 3 {
		t.Errorf("expected 3 failures, got %v", counts)
	}
}
