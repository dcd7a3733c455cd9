// Package history resolves last-visit times for bookmarks and decides which
// of them have gone stale.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

// Lookup returns the visit times (unix milliseconds) recorded for a URL
type Lookup interface {
	Visits(ctx context.Context, url string) ([]int64, error)
}

// LastVisit returns the most recent visit of url, or false if there is none
func LastVisit(ctx context.Context, h Lookup, url string) (int64, bool, error) {
	visits, err := h.Visits(ctx, url)
	if err != nil {
		return 0, false, err
	}
	if len(visits) == 0 {
		return 0, false, nil
	}

	last := visits[0]
	for _, v := range visits[1:] {
		if v > last {
			last = v
		}
	}
	return last, true, nil
}

// StaleBookmarks returns, in input order, the bookmarks never visited or last
// visited before now minus thresholdDays. Each result carries its resolved
// LastVisited (0 when never visited).
func StaleBookmarks(ctx context.Context, h Lookup, bookmarks []storage.Bookmark, thresholdDays int, now time.Time) ([]storage.Bookmark, error) {
	threshold := now.Add(-time.Duration(thresholdDays) * 24 * time.Hour).UnixMilli()

	var stale []storage.Bookmark
	for _, b := range bookmarks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		last, ok, err := LastVisit(ctx, h, b.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to look up visits for %s: %w", b.URL, err)
		}
		if !ok || last < threshold {
			b.LastVisited = last
			stale = append(stale, b)
		}
	}
	return stale, nil
}

// Enrich annotates every bookmark with its last visit
func Enrich(ctx context.Context, h Lookup, bookmarks []storage.Bookmark) ([]storage.Bookmark, error) {
	out := make([]storage.Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		last, _, err := LastVisit(ctx, h, b.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to look up visits for %s: %w", b.URL, err)
		}
		b.LastVisited = last
		out = append(out, b)
	}
	return out, nil
}

// MapLookup is an in-memory Lookup
type MapLookup struct {
	mu     sync.RWMutex
	visits map[string][]int64
}

// NewMapLookup creates an empty in-memory history
func NewMapLookup() *MapLookup {
	return &MapLookup{visits: make(map[string][]int64)}
}

// Add records a visit
func (m *MapLookup) Add(url string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits[url] = append(m.visits[url], at.UnixMilli())
}

// Visits implements Lookup
func (m *MapLookup) Visits(_ context.Context, url string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.visits[url]...), nil
}
