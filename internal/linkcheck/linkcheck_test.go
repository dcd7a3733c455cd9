package linkcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/metrics"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(tracker *metrics.Tracker) *Checker {
	return &Checker{
		BatchSize:  2,
		BatchDelay: 10 * time.Millisecond,
		Timeout:    300 * time.Millisecond,
		UserAgent:  "sift-test",
		tracker:    tracker,
	}
}

func TestCheckLinks_Classification(t *testing.T) {
	srv := newTestServer(t)
	tracker := metrics.NewTracker()
	checker := newTestChecker(tracker)

	tests := []struct {
		path string
		want storage.LinkStatus
	}{
		{"/ok", storage.StatusAlive},
		{"/missing", storage.StatusDead},
		{"/gone", storage.StatusDead},
		{"/moved", storage.StatusAlive},
		{"/broken", storage.StatusAlive},
		{"/forbidden", storage.StatusAlive},
		{"/slow", storage.StatusTimeout},
	}

	urls := make([]string, len(tests))
	for i, tt := range tests {
		urls[i] = srv.URL + tt.path
	}

	results, err := checker.CheckLinks(context.Background(), urls, nil)
	if err != nil {
		t.Fatalf("CheckLinks() error = %v", err)
	}
	if len(results) != len(urls) {
		t.Fatalf("CheckLinks() returned %d results, want %d", len(results), len(urls))
	}

	for i, tt := range tests {
		if results[i].URL != urls[i] {
			t.Errorf("results[%d].URL = %q, want %q", i, results[i].URL, urls[i])
		}
		if results[i].Status != tt.want {
			t.Errorf("%s: status = %s, want %s", tt.path, results[i].Status, tt.want)
		}
	}

	snap := tracker.GetSnapshot()
	if snap.LinksChecked != len(urls) {
		t.Errorf("tracker LinksChecked = %d, want %d", snap.LinksChecked, len(urls))
	}
	if snap.LinksDead != 2 {
		t.Errorf("tracker LinksDead = %d, want 2", snap.LinksDead)
	}
}

func TestCheckLinks_InvalidURL(t *testing.T) {
	checker := newTestChecker(nil)

	results, err := checker.CheckLinks(context.Background(), []string{"://not a url", "ftp://example.invalid/file"}, nil)
	if err != nil {
		t.Fatalf("CheckLinks() error = %v", err)
	}
	for _, r := range results {
		if r.Status != storage.StatusError {
			t.Errorf("%q: status = %s, want error", r.URL, r.Status)
		}
	}
}

func TestCheckLinks_Progress(t *testing.T) {
	srv := newTestServer(t)
	checker := newTestChecker(nil)

	urls := []string{srv.URL + "/ok", srv.URL + "/ok", srv.URL + "/ok", srv.URL + "/ok", srv.URL + "/ok"}
	var calls [][2]int
	_, err := checker.CheckLinks(context.Background(), urls, func(checked, total int) {
		calls = append(calls, [2]int{checked, total})
	})
	if err != nil {
		t.Fatalf("CheckLinks() error = %v", err)
	}

	want := [][2]int{{2, 5}, {4, 5}, {5, 5}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestCheckLinks_ContextCancelled(t *testing.T) {
	srv := newTestServer(t)
	checker := newTestChecker(nil)
	checker.BatchDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	urls := []string{srv.URL + "/ok", srv.URL + "/ok", srv.URL + "/ok"}
	results, err := checker.CheckLinks(ctx, urls, func(checked, total int) {
		cancel()
	})
	if err == nil {
		t.Fatal("CheckLinks() expected context error")
	}
	if len(results) != 2 {
		t.Errorf("CheckLinks() returned %d partial results, want 2", len(results))
	}
}

func TestClassify(t *testing.T) {
	for code, want := range map[int]storage.LinkStatus{
		200: storage.StatusAlive,
		204: storage.StatusAlive,
		301: storage.StatusAlive,
		403: storage.StatusAlive,
		404: storage.StatusDead,
		410: storage.StatusDead,
		500: storage.StatusAlive,
	} {
		if got := Classify(code); got != want {
			t.Errorf("Classify(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestFilterBookmarksToCheck(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	cache := Cache{
		"https://alive.com":       {LastChecked: now.Add(-1 * day), Status: storage.StatusAlive},
		"https://dead.com":        {LastChecked: now.Add(-1 * day), Status: storage.StatusDead},
		"https://stale-alive.com": {LastChecked: now.Add(-10 * day), Status: storage.StatusAlive},
		"https://stale-dead.com":  {LastChecked: now.Add(-10 * day), Status: storage.StatusDead},
	}
	bookmarks := []storage.Bookmark{
		{ID: "1", URL: "https://alive.com"},
		{ID: "2", URL: "https://dead.com"},
		{ID: "3", URL: "https://stale-alive.com"},
		{ID: "4", URL: "https://stale-dead.com"},
		{ID: "5", URL: "https://new.com"},
	}

	res := FilterBookmarksToCheck(bookmarks, cache, 7, now)

	if got := urlSet(res.BookmarksToCheck); len(got) != 3 ||
		!got["https://stale-alive.com"] || !got["https://stale-dead.com"] || !got["https://new.com"] {
		t.Errorf("BookmarksToCheck = %v", got)
	}
	if got := urlSet(res.CachedDeadLinks); len(got) != 1 || !got["https://dead.com"] {
		t.Errorf("CachedDeadLinks = %v", got)
	}

	// Order independence
	reversed := make([]storage.Bookmark, len(bookmarks))
	for i, b := range bookmarks {
		reversed[len(bookmarks)-1-i] = b
	}
	res2 := FilterBookmarksToCheck(reversed, cache, 7, now)
	if len(res2.BookmarksToCheck) != 3 || len(res2.CachedDeadLinks) != 1 {
		t.Errorf("reversed input gave %d/%d", len(res2.BookmarksToCheck), len(res2.CachedDeadLinks))
	}

	// Cache is read only
	if len(cache) != 4 || !cache["https://alive.com"].LastChecked.Equal(now.Add(-1*day)) {
		t.Error("FilterBookmarksToCheck mutated the cache")
	}
}

func TestFilterBookmarksToCheck_Boundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cache := Cache{
		"https://edge.com":    {LastChecked: now.Add(-7 * 24 * time.Hour), Status: storage.StatusAlive},
		"https://flaky.com":   {LastChecked: now, Status: storage.StatusTimeout},
		"https://refused.com": {LastChecked: now, Status: storage.StatusError},
	}
	bookmarks := []storage.Bookmark{
		{ID: "1", URL: "https://edge.com"},
		{ID: "2", URL: "https://flaky.com"},
		{ID: "3", URL: "https://refused.com"},
	}

	res := FilterBookmarksToCheck(bookmarks, cache, 7, now)
	if len(res.BookmarksToCheck) != 3 {
		t.Errorf("BookmarksToCheck = %v, want all three", urlSet(res.BookmarksToCheck))
	}
}

func TestRecordResults(t *testing.T) {
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := RecordResults(s, []storage.LinkCheckResult{
		{URL: "https://a.com", Status: storage.StatusDead},
		{URL: "https://b.com", Status: storage.StatusAlive},
	}, t0); err != nil {
		t.Fatalf("RecordResults() error = %v", err)
	}

	// Re-check replaces the entry wholesale
	t1 := t0.Add(time.Hour)
	if err := RecordResults(s, []storage.LinkCheckResult{
		{URL: "https://a.com", Status: storage.StatusAlive},
	}, t1); err != nil {
		t.Fatalf("RecordResults() error = %v", err)
	}

	cache, err := LoadCache(s)
	if err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}
	if len(cache) != 2 {
		t.Fatalf("cache has %d entries, want 2", len(cache))
	}
	if e := cache["https://a.com"]; e.Status != storage.StatusAlive || !e.LastChecked.Equal(t1) {
		t.Errorf("a.com entry = %+v", e)
	}
	if e := cache["https://b.com"]; e.Status != storage.StatusAlive || !e.LastChecked.Equal(t0) {
		t.Errorf("b.com entry = %+v", e)
	}
	if dead := cache.DeadURLs(); len(dead) != 0 {
		t.Errorf("DeadURLs() = %v, want none", dead)
	}
}

func TestDeadBookmarks(t *testing.T) {
	bookmarks := []storage.Bookmark{{ID: "1", URL: "https://a.com"}, {ID: "2", URL: "https://b.com"}}
	results := []storage.LinkCheckResult{
		{URL: "https://a.com", Status: storage.StatusAlive},
		{URL: "https://b.com", Status: storage.StatusDead},
	}
	dead := DeadBookmarks(bookmarks, results)
	if len(dead) != 1 || dead[0].ID != "2" {
		t.Errorf("DeadBookmarks() = %v", dead)
	}
}

func urlSet(bookmarks []storage.Bookmark) map[string]bool {
	set := make(map[string]bool)
	for _, b := range bookmarks {
		set[b.URL] = true
	}
	return set
}
