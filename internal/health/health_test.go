package health

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/dedup"
	"github.com/alvmarrod/bookmark-sift/internal/history"
	"github.com/alvmarrod/bookmark-sift/internal/linkcheck"
	"github.com/alvmarrod/bookmark-sift/internal/settings"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.com/page", "example.com"},
		{"http://blog.example.com:8080/", "blog.example.com"},
		{"https://example.com", "example.com"},
		{"not a url", UnknownDomain},
		{"http://[::1", UnknownDomain},
		{"", UnknownDomain},
	}
	for _, tt := range tests {
		if got := ExtractDomain(tt.in); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDomainDistribution(t *testing.T) {
	bookmarks := []storage.Bookmark{
		{URL: "https://a.com/1"},
		{URL: "https://b.com/1"},
		{URL: "https://www.b.com/2"},
		{URL: "https://b.com/3"},
	}

	dist := DomainDistribution(bookmarks)
	if len(dist) != 2 {
		t.Fatalf("DomainDistribution() returned %d rows, want 2", len(dist))
	}
	if dist[0].Domain != "b.com" || dist[0].Count != 3 || dist[0].Percentage != 75 {
		t.Errorf("dist[0] = %+v, want b.com/3/75", dist[0])
	}
	if dist[1].Domain != "a.com" || dist[1].Count != 1 || dist[1].Percentage != 25 {
		t.Errorf("dist[1] = %+v, want a.com/1/25", dist[1])
	}
}

func TestScore_Bounds(t *testing.T) {
	if got := Score(Metrics{}); got != 100 {
		t.Errorf("Score(empty) = %d, want 100", got)
	}

	// Every deduction at its cap
	n := 1000
	all := make([]storage.Bookmark, n)
	for i := range all {
		all[i] = storage.Bookmark{ID: fmt.Sprint(i), URL: "https://same.com/", ParentID: storage.BookmarksBarID}
	}
	worst := Metrics{
		TotalBookmarks:     n,
		TotalFolders:       0,
		Duplicates:         []dedup.DuplicateGroup{{NormalizedURL: "https://same.com/", Bookmarks: all}},
		DeadLinks:          all,
		StaleBookmarks:     all,
		UncategorizedCount: n,
		DomainDistribution: []DomainCount{{Domain: "same.com", Count: n, Percentage: 100}},
	}
	if got := Score(worst); got != 1 {
		t.Errorf("Score(worst) = %d, want 1", got)
	}

	// Inconsistent inputs still clamp
	weird := Metrics{TotalBookmarks: 0, DeadLinks: all, StaleBookmarks: all}
	if got := Score(weird); got < 1 || got > 100 {
		t.Errorf("Score(weird) = %d, out of [1,100]", got)
	}
}

func TestScore_Deductions(t *testing.T) {
	bookmarks := make([]storage.Bookmark, 100)
	for i := range bookmarks {
		bookmarks[i] = storage.Bookmark{ID: fmt.Sprint(i)}
	}

	m := Metrics{
		TotalBookmarks: 100,
		TotalFolders:   1,
		// 2 extra copies -> 2%
		Duplicates: []dedup.DuplicateGroup{{Bookmarks: bookmarks[:3]}},
		// 5% dead
		DeadLinks: bookmarks[:5],
		// 10% stale -> round(0.1*50) = 5
		StaleBookmarks: bookmarks[:10],
		// 50% uncategorized -> round(0.5*30) = 15
		UncategorizedCount: 50,
		// 44% top domain -> round(14/7) = 2
		DomainDistribution: []DomainCount{{Domain: "x.com", Count: 44, Percentage: 44}},
	}
	// 100 per folder -> round(50/10) = 5
	want := 100 - 2 - 5 - 5 - 15 - 2 - 5
	if got := Score(m); got != want {
		t.Errorf("Score() = %d, want %d", got, want)
	}
}

type fakeChecker struct {
	dead  map[string]bool
	calls int
}

func (f *fakeChecker) CheckLinks(_ context.Context, urls []string, onProgress func(int, int)) ([]storage.LinkCheckResult, error) {
	f.calls++
	results := make([]storage.LinkCheckResult, len(urls))
	for i, u := range urls {
		status := storage.StatusAlive
		if f.dead[u] {
			status = storage.StatusDead
		}
		results[i] = storage.LinkCheckResult{URL: u, Status: status}
	}
	if onProgress != nil {
		onProgress(len(urls), len(urls))
	}
	return results, nil
}

func setupCalculator(t *testing.T, checker LinkChecker) (*Calculator, *storage.Storage, *history.MapLookup) {
	t.Helper()
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	h := history.NewMapLookup()
	calc := NewCalculator(s, s, settings.NewService(s), h, checker)
	return calc, s, h
}

func TestCalculate_CachedDeadLinks(t *testing.T) {
	checker := &fakeChecker{}
	calc, s, h := setupCalculator(t, checker)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	calc.now = func() time.Time { return now }

	dev, err := s.CreateFolder(ctx, "Dev", storage.BookmarksBarID)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []struct{ title, url, parent string }{
		{"Go", "https://go.dev/", dev.ID},
		{"Go again", "http://www.go.dev", dev.ID},
		{"Gone", "https://gone.example/", storage.OtherBookmarkID},
		{"Fresh", "https://fresh.example/", dev.ID},
	} {
		if _, err := s.Create(ctx, b.title, b.url, b.parent); err != nil {
			t.Fatal(err)
		}
	}
	h.Add("https://fresh.example/", now.Add(-time.Hour))

	if err := linkcheck.SaveCache(s, linkcheck.Cache{
		"https://gone.example/": {LastChecked: now, Status: storage.StatusDead},
		"https://go.dev/":       {LastChecked: now, Status: storage.StatusAlive},
	}); err != nil {
		t.Fatal(err)
	}

	m, err := calc.Calculate(ctx, false)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if checker.calls != 0 {
		t.Error("cached path performed live checks")
	}
	if m.TotalBookmarks != 4 {
		t.Errorf("TotalBookmarks = %d, want 4", m.TotalBookmarks)
	}
	// Bookmarks bar, Other bookmarks, Dev
	if m.TotalFolders != 3 {
		t.Errorf("TotalFolders = %d, want 3", m.TotalFolders)
	}
	if len(m.Duplicates) != 1 {
		t.Errorf("Duplicates = %d groups, want 1", len(m.Duplicates))
	}
	if len(m.DeadLinks) != 1 || m.DeadLinks[0].URL != "https://gone.example/" {
		t.Errorf("DeadLinks = %v", m.DeadLinks)
	}
	if len(m.StaleBookmarks) != 3 {
		t.Errorf("StaleBookmarks = %d, want 3", len(m.StaleBookmarks))
	}
	if m.UncategorizedCount != 1 {
		t.Errorf("UncategorizedCount = %d, want 1", m.UncategorizedCount)
	}
	if m.HealthScore < 1 || m.HealthScore > 100 {
		t.Errorf("HealthScore = %d", m.HealthScore)
	}
}

func TestCalculate_LiveRefreshesCache(t *testing.T) {
	checker := &fakeChecker{dead: map[string]bool{"https://b.example/": true}}
	calc, s, _ := setupCalculator(t, checker)
	ctx := context.Background()

	for _, u := range []string{"https://a.example/", "https://b.example/"} {
		if _, err := s.Create(ctx, u, u, storage.OtherBookmarkID); err != nil {
			t.Fatal(err)
		}
	}

	m, err := calc.Calculate(ctx, true)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if checker.calls != 1 {
		t.Errorf("checker called %d times, want 1", checker.calls)
	}
	if len(m.DeadLinks) != 1 || m.DeadLinks[0].URL != "https://b.example/" {
		t.Errorf("DeadLinks = %v", m.DeadLinks)
	}

	cache, err := linkcheck.LoadCache(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(cache) != 2 || cache["https://b.example/"].Status != storage.StatusDead {
		t.Errorf("cache after live check = %v", cache)
	}
}

func TestCalculate_Empty(t *testing.T) {
	calc, _, _ := setupCalculator(t, nil)

	m, err := calc.Calculate(context.Background(), false)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if m.TotalBookmarks != 0 || m.HealthScore != 100 {
		t.Errorf("empty collection: total=%d score=%d", m.TotalBookmarks, m.HealthScore)
	}
}
