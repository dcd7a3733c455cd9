package dedup

import (
	"testing"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

func TestNormalize_EquivalentURLs(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"tracking params", "https://example.com/page?utm_source=x&utm_medium=y&fbclid=z", "https://example.com/page"},
		{"more tracking", "https://example.com/?gclid=1&ref=hn&source=tw&mc_cid=2&mc_eid=3&utm_term=t&utm_content=c&utm_campaign=k", "https://example.com/"},
		{"scheme", "http://example.com/page", "https://example.com/page"},
		{"trailing slash", "https://example.com/page/", "https://example.com/page"},
		{"host case", "https://EXAMPLE.com/page", "https://example.com/page"},
		{"www prefix", "https://www.example.com/page", "https://example.com/page"},
		{"default port", "http://example.com:80/page", "https://example.com/page"},
		{"explicit port", "https://example.com:443/page", "https://example.com/page"},
		{"query order", "https://example.com/page?b=2&a=1", "https://example.com/page?a=1&b=2"},
		{"fragment", "https://example.com/page#section", "https://example.com/page"},
		{"root path", "https://example.com", "https://example.com/"},
		{"everything", "http://WWW.Example.com:8080/path/?utm_source=x&z=1&a=2#top", "https://example.com/path?a=2&z=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			na, nb := Normalize(tt.a), Normalize(tt.b)
			if na != nb {
				t.Errorf("Normalize(%q) = %q, Normalize(%q) = %q", tt.a, na, tt.b, nb)
			}
		})
	}
}

func TestNormalize_Output(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://www.Example.com/a/?b=2&a=1#x", "https://example.com/a?a=1&b=2"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/keep?q=go", "https://example.com/keep?q=go"},
		{"https://a.example/page?utm_source=x&x=1;y=2", "https://a.example/page?x=1;y=2"},
		{"https://a.example/search?q=100%&utm%5Fsource=x", "https://a.example/search?q=100%"},
		{"https://a.example/p?b=%zz&a=1&&", "https://a.example/p?a=1&b=%zz"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_DistinctURLsStayDistinct(t *testing.T) {
	pairs := [][2]string{
		{"https://example.com/a", "https://example.com/b"},
		{"https://example.com/page?id=1", "https://example.com/page?id=2"},
		{"https://blog.example.com/", "https://example.com/"},
		{"https://a.example/page?x=1;y=2", "https://a.example/page?x=3;y=4"},
		{"https://a.example/page?x=1;y=2", "https://a.example/page"},
		{"https://a.example/search?q=%zz", "https://a.example/search?q=100%"},
		{"https://a.example/search?q=%zz", "https://a.example/search"},
	}
	for _, p := range pairs {
		if Normalize(p[0]) == Normalize(p[1]) {
			t.Errorf("Normalize(%q) == Normalize(%q)", p[0], p[1])
		}
	}
}

func TestNormalize_InvalidInputPassthrough(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"NOT A URL", "not a url"},
		{"http://[::1", "http://[::1"},
		{"", ""},
		{"relative/Path", "relative/path"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func bm(id, url string, added int64) storage.Bookmark {
	return storage.Bookmark{ID: id, URL: url, Title: id, DateAdded: added}
}

func TestFindDuplicates(t *testing.T) {
	bookmarks := []storage.Bookmark{
		bm("1", "https://example.com/a", 0),
		bm("2", "https://other.com/", 0),
		bm("3", "http://www.example.com/a/", 0),
		bm("4", "https://unique.com/", 0),
		bm("5", "https://other.com/?utm_source=x", 0),
		bm("6", "https://example.com/a#frag", 0),
	}

	groups := FindDuplicates(bookmarks)
	if len(groups) != 2 {
		t.Fatalf("FindDuplicates() returned %d groups, want 2", len(groups))
	}

	// First-occurrence order of the normalized key
	if groups[0].NormalizedURL != "https://example.com/a" {
		t.Errorf("groups[0].NormalizedURL = %q", groups[0].NormalizedURL)
	}
	if ids := idsOf(groups[0].Bookmarks); ids != "136" {
		t.Errorf("groups[0] members = %s, want 136", ids)
	}
	if ids := idsOf(groups[1].Bookmarks); ids != "25" {
		t.Errorf("groups[1] members = %s, want 25", ids)
	}

	// Every grouped bookmark appears exactly once
	seen := map[string]int{}
	for _, g := range groups {
		if len(g.Bookmarks) < 2 {
			t.Errorf("group %q has %d members", g.NormalizedURL, len(g.Bookmarks))
		}
		for _, b := range g.Bookmarks {
			seen[b.ID]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("bookmark %s appears in %d groups", id, n)
		}
	}
	if _, ok := seen["4"]; ok {
		t.Error("unique bookmark was grouped")
	}

	if DuplicateCount(groups) != 3 {
		t.Errorf("DuplicateCount() = %d, want 3", DuplicateCount(groups))
	}
}

func TestFindDuplicates_UnparsableQueriesNotGrouped(t *testing.T) {
	bookmarks := []storage.Bookmark{
		bm("1", "https://a.example/page?x=1;y=2", 0),
		bm("2", "https://a.example/page?x=3;y=4", 0),
		bm("3", "https://a.example/search?q=%zz", 0),
		bm("4", "https://a.example/search?q=100%", 0),
		bm("5", "http://a.example/page?x=1;y=2#top", 0),
	}

	groups := FindDuplicates(bookmarks)
	if len(groups) != 1 {
		t.Fatalf("FindDuplicates() returned %d groups, want 1", len(groups))
	}
	if ids := idsOf(groups[0].Bookmarks); ids != "15" {
		t.Errorf("group members = %s, want 15", ids)
	}
}

func TestFindDuplicates_Empty(t *testing.T) {
	if groups := FindDuplicates(nil); len(groups) != 0 {
		t.Errorf("FindDuplicates(nil) = %v, want empty", groups)
	}
}

func TestSelectBookmarkToKeep(t *testing.T) {
	newest := SelectBookmarkToKeep(DuplicateGroup{Bookmarks: []storage.Bookmark{
		bm("old", "https://a.com", 1000),
		bm("new", "https://a.com", 2000),
	}})
	if newest.ID != "new" {
		t.Errorf("SelectBookmarkToKeep() = %s, want new", newest.ID)
	}

	tie := SelectBookmarkToKeep(DuplicateGroup{Bookmarks: []storage.Bookmark{
		bm("first", "https://a.com", 1000),
		bm("second", "https://a.com", 1000),
	}})
	if tie.ID != "first" {
		t.Errorf("SelectBookmarkToKeep() on tie = %s, want first", tie.ID)
	}

	missing := SelectBookmarkToKeep(DuplicateGroup{Bookmarks: []storage.Bookmark{
		bm("undated", "https://a.com", 0),
		bm("dated", "https://a.com", 5),
	}})
	if missing.ID != "dated" {
		t.Errorf("SelectBookmarkToKeep() with missing date = %s, want dated", missing.ID)
	}
}

func idsOf(bookmarks []storage.Bookmark) string {
	s := ""
	for _, b := range bookmarks {
		s += b.ID
	}
	return s
}
