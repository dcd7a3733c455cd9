package linkcheck

import (
	"fmt"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

// CacheKey is the key-value slot holding the reachability cache
const CacheKey = "deadLinkCache"

// Cache maps a raw (non-normalized) URL to its last verdict
type Cache map[string]storage.CacheEntry

// Store is the persisted state the cache lives in
type Store interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
	UpdateJSON(key string, v any, fn func(exists bool) error) error
}

// LoadCache reads the persisted cache; an absent cache is empty
func LoadCache(kv Store) (Cache, error) {
	cache := make(Cache)
	if _, err := kv.GetJSON(CacheKey, &cache); err != nil {
		return nil, fmt.Errorf("failed to load link cache: %w", err)
	}
	if cache == nil {
		cache = make(Cache)
	}
	return cache, nil
}

// SaveCache replaces the persisted cache
func SaveCache(kv Store, cache Cache) error {
	if err := kv.SetJSON(CacheKey, cache); err != nil {
		return fmt.Errorf("failed to save link cache: %w", err)
	}
	return nil
}

// RecordResults stores every result in the persisted cache, replacing any
// previous entry for the same URL
func RecordResults(kv Store, results []storage.LinkCheckResult, now time.Time) error {
	if len(results) == 0 {
		return nil
	}

	cache := make(Cache)
	err := kv.UpdateJSON(CacheKey, &cache, func(bool) error {
		if cache == nil {
			cache = make(Cache)
		}
		cache.Record(results, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record link results: %w", err)
	}
	return nil
}

// Record sets a fresh entry for each result
func (c Cache) Record(results []storage.LinkCheckResult, now time.Time) {
	for _, r := range results {
		c[r.URL] = storage.CacheEntry{LastChecked: now, Status: r.Status}
	}
}

// DeadURLs returns the set of URLs whose last verdict was dead
func (c Cache) DeadURLs() map[string]bool {
	dead := make(map[string]bool)
	for u, e := range c {
		if e.Status == storage.StatusDead {
			dead[u] = true
		}
	}
	return dead
}

// FilterResult splits bookmarks by what the cache already knows
type FilterResult struct {
	BookmarksToCheck []storage.Bookmark
	CachedDeadLinks  []storage.Bookmark
}

// FilterBookmarksToCheck decides per bookmark whether a fresh check is needed.
// Missing or expired entries are re-checked; fresh dead verdicts are reported
// as cached dead links; fresh alive verdicts are skipped. Fresh timeout and
// error verdicts are not conclusive and are re-checked. The cache is only read.
func FilterBookmarksToCheck(bookmarks []storage.Bookmark, cache Cache, refreshDays int, now time.Time) FilterResult {
	refresh := time.Duration(refreshDays) * 24 * time.Hour
	var res FilterResult

	for _, b := range bookmarks {
		entry, ok := cache[b.URL]
		if !ok || now.Sub(entry.LastChecked) >= refresh {
			res.BookmarksToCheck = append(res.BookmarksToCheck, b)
			continue
		}

		switch entry.Status {
		case storage.StatusAlive:
		case storage.StatusDead:
			res.CachedDeadLinks = append(res.CachedDeadLinks, b)
		default:
			res.BookmarksToCheck = append(res.BookmarksToCheck, b)
		}
	}

	return res
}
