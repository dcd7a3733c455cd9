package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

func TestLastVisit(t *testing.T) {
	h := NewMapLookup()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Add("https://a.com", base)
	h.Add("https://a.com", base.Add(48*time.Hour))
	h.Add("https://a.com", base.Add(24*time.Hour))

	last, ok, err := LastVisit(context.Background(), h, "https://a.com")
	if err != nil || !ok {
		t.Fatalf("LastVisit() = %d, %v, %v", last, ok, err)
	}
	if want := base.Add(48 * time.Hour).UnixMilli(); last != want {
		t.Errorf("LastVisit() = %d, want %d", last, want)
	}

	if _, ok, _ := LastVisit(context.Background(), h, "https://never.com"); ok {
		t.Error("LastVisit() ok = true for unvisited URL")
	}
}

func TestStaleBookmarks(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h := NewMapLookup()
	h.Add("https://recent.com", now.Add(-10*24*time.Hour))
	h.Add("https://old.com", now.Add(-200*24*time.Hour))

	bookmarks := []storage.Bookmark{
		{ID: "1", URL: "https://old.com"},
		{ID: "2", URL: "https://recent.com"},
		{ID: "3", URL: "https://never.com"},
	}

	stale, err := StaleBookmarks(context.Background(), h, bookmarks, 180, now)
	if err != nil {
		t.Fatalf("StaleBookmarks() error = %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("StaleBookmarks() returned %d, want 2", len(stale))
	}
	if stale[0].ID != "1" || stale[1].ID != "3" {
		t.Errorf("StaleBookmarks() order = %s,%s, want 1,3", stale[0].ID, stale[1].ID)
	}
	if stale[0].LastVisited != now.Add(-200*24*time.Hour).UnixMilli() {
		t.Errorf("stale[0].LastVisited = %d", stale[0].LastVisited)
	}
	if stale[1].LastVisited != 0 {
		t.Errorf("never-visited LastVisited = %d, want 0", stale[1].LastVisited)
	}
	// Input must not be mutated
	if bookmarks[0].LastVisited != 0 {
		t.Error("input bookmark was annotated in place")
	}
}

func TestWebkitToUnixMillis(t *testing.T) {
	// 2021-01-01T00:00:00Z
	want := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	micros := (want*1000 + webkitEpochOffsetMicros)
	if got := WebkitToUnixMillis(micros); got != want {
		t.Errorf("WebkitToUnixMillis() = %d, want %d", got, want)
	}
}

func TestChromeHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")

	// Build a minimal History file with the same tables the browser uses
	rw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	visit := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	_, err = rw.Exec(`
		CREATE TABLE urls (id INTEGER PRIMARY KEY, url LONGVARCHAR, title LONGVARCHAR);
		CREATE TABLE visits (id INTEGER PRIMARY KEY, url INTEGER NOT NULL, visit_time INTEGER NOT NULL);
	`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Exec("INSERT INTO urls (id, url, title) VALUES (1, 'https://go.dev/', 'Go')"); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Exec("INSERT INTO visits (url, visit_time) VALUES (1, ?), (1, ?)",
		visit.UnixMilli()*1000+webkitEpochOffsetMicros,
		visit.Add(-time.Hour).UnixMilli()*1000+webkitEpochOffsetMicros); err != nil {
		t.Fatal(err)
	}
	rw.Close()

	h, err := OpenChromeHistory(path)
	if err != nil {
		t.Fatalf("OpenChromeHistory() error = %v", err)
	}
	defer h.Close()

	last, ok, err := LastVisit(context.Background(), h, "https://go.dev/")
	if err != nil || !ok {
		t.Fatalf("LastVisit() = %d, %v, %v", last, ok, err)
	}
	if last != visit.UnixMilli() {
		t.Errorf("LastVisit() = %d, want %d", last, visit.UnixMilli())
	}

	visits, err := h.Visits(context.Background(), "https://unknown.example/")
	if err != nil || len(visits) != 0 {
		t.Errorf("Visits(unknown) = %v, %v", visits, err)
	}
}

func TestOpenChromeHistory_RejectsOtherDatabases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	rw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Exec("CREATE TABLE things (id INTEGER)"); err != nil {
		t.Fatal(err)
	}
	rw.Close()

	if _, err := OpenChromeHistory(path); err == nil {
		t.Error("OpenChromeHistory() expected error for non-history database")
	}
}
