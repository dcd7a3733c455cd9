// Package health aggregates duplicate, dead-link, staleness and organization
// signals into a single bounded score.
package health

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/dedup"
	"github.com/alvmarrod/bookmark-sift/internal/history"
	"github.com/alvmarrod/bookmark-sift/internal/linkcheck"
	"github.com/alvmarrod/bookmark-sift/internal/settings"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/sirupsen/logrus"
)

// UnknownDomain buckets URLs without a parsable host
const UnknownDomain = "unknown"

// DomainCount is one row of the domain distribution
type DomainCount struct {
	Domain     string `json:"domain"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Metrics is a derived, non-persisted health snapshot
type Metrics struct {
	TotalBookmarks     int                    `json:"totalBookmarks"`
	TotalFolders       int                    `json:"totalFolders"`
	Duplicates         []dedup.DuplicateGroup `json:"duplicates"`
	DeadLinks          []storage.Bookmark     `json:"deadLinks"`
	StaleBookmarks     []storage.Bookmark     `json:"staleBookmarks"`
	UncategorizedCount int                    `json:"uncategorizedCount"`
	DomainDistribution []DomainCount          `json:"domainDistribution"`
	HealthScore        int                    `json:"healthScore"`
}

// ExtractDomain returns the lowercased hostname without a leading "www."
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return UnknownDomain
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return UnknownDomain
	}
	return strings.TrimPrefix(hostname, "www.")
}

// DomainDistribution counts bookmarks per domain, most common first
func DomainDistribution(bookmarks []storage.Bookmark) []DomainCount {
	counts := make(map[string]int)
	var order []string
	for _, b := range bookmarks {
		d := ExtractDomain(b.URL)
		if _, ok := counts[d]; !ok {
			order = append(order, d)
		}
		counts[d]++
	}

	total := len(bookmarks)
	distribution := make([]DomainCount, 0, len(order))
	for _, d := range order {
		distribution = append(distribution, DomainCount{
			Domain:     d,
			Count:      counts[d],
			Percentage: round(float64(counts[d]) / float64(total) * 100),
		})
	}

	// Stable so equal counts keep first-seen order
	sort.SliceStable(distribution, func(i, j int) bool {
		return distribution[i].Count > distribution[j].Count
	})
	return distribution
}

// CountUncategorized counts bookmarks sitting directly in a root container
func CountUncategorized(bookmarks []storage.Bookmark) int {
	n := 0
	for _, b := range bookmarks {
		if slices.Contains(storage.RootFolderIDs, b.ParentID) {
			n++
		}
	}
	return n
}

// Score computes the 1..100 health score. Each deduction is capped on its
// own before being summed.
func Score(m Metrics) int {
	score := 100
	total := float64(max(m.TotalBookmarks, 1))

	score -= min(20, round(float64(dedup.DuplicateCount(m.Duplicates))/total*100))
	score -= min(25, round(float64(len(m.DeadLinks))/total*100))
	score -= min(15, round(float64(len(m.StaleBookmarks))/total*50))
	score -= min(15, round(float64(m.UncategorizedCount)/total*30))

	if len(m.DomainDistribution) > 0 {
		if top := m.DomainDistribution[0].Percentage; top > 30 {
			score -= min(10, round(float64(top-30)/7))
		}
	}

	perFolder := float64(m.TotalBookmarks) / float64(max(m.TotalFolders, 1))
	if perFolder > 50 {
		score -= min(15, round((perFolder-50)/10))
	}

	return max(1, min(100, score))
}

// round is half-up rounding for non-negative ratios
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

// BookmarkSource lists the collection being scored
type BookmarkSource interface {
	ListAll(ctx context.Context) ([]storage.Bookmark, error)
	ListFolders(ctx context.Context) ([]storage.Folder, error)
}

// LinkChecker runs live reachability checks
type LinkChecker interface {
	CheckLinks(ctx context.Context, urls []string, onProgress func(checked, total int)) ([]storage.LinkCheckResult, error)
}

// Calculator assembles health snapshots from the store and its collaborators
type Calculator struct {
	bookmarks BookmarkSource
	kv        linkcheck.Store
	settings  *settings.Service
	history   history.Lookup
	checker   LinkChecker
	now       func() time.Time
}

// NewCalculator creates a calculator. checker is only used for live checks.
func NewCalculator(bookmarks BookmarkSource, kv linkcheck.Store, svc *settings.Service, h history.Lookup, checker LinkChecker) *Calculator {
	return &Calculator{
		bookmarks: bookmarks,
		kv:        kv,
		settings:  svc,
		history:   h,
		checker:   checker,
		now:       time.Now,
	}
}

// Calculate builds a snapshot. With useLive the scanner checks every bookmark
// and the verdicts refresh the cache; otherwise cached dead verdicts are used
// with no network access.
func (c *Calculator) Calculate(ctx context.Context, useLive bool) (*Metrics, error) {
	cfg, err := c.settings.Get()
	if err != nil {
		return nil, err
	}

	bookmarks, err := c.bookmarks.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	folders, err := c.bookmarks.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	stale, err := history.StaleBookmarks(ctx, c.history, bookmarks, cfg.StaleThresholdDays, c.now())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate staleness: %w", err)
	}

	var dead []storage.Bookmark
	if useLive {
		dead, err = c.liveDeadLinks(ctx, bookmarks)
	} else {
		dead, err = c.cachedDeadLinks(bookmarks)
	}
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		TotalBookmarks:     len(bookmarks),
		TotalFolders:       len(folders),
		Duplicates:         dedup.FindDuplicates(bookmarks),
		DeadLinks:          dead,
		StaleBookmarks:     stale,
		UncategorizedCount: CountUncategorized(bookmarks),
		DomainDistribution: DomainDistribution(bookmarks),
	}
	m.HealthScore = Score(*m)

	logrus.Debugf("Health: %d bookmarks, %d folders, %d dead, %d stale, score %d",
		m.TotalBookmarks, m.TotalFolders, len(m.DeadLinks), len(m.StaleBookmarks), m.HealthScore)
	return m, nil
}

func (c *Calculator) cachedDeadLinks(bookmarks []storage.Bookmark) ([]storage.Bookmark, error) {
	cache, err := linkcheck.LoadCache(c.kv)
	if err != nil {
		return nil, err
	}

	dead := cache.DeadURLs()
	var out []storage.Bookmark
	for _, b := range bookmarks {
		if dead[b.URL] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Calculator) liveDeadLinks(ctx context.Context, bookmarks []storage.Bookmark) ([]storage.Bookmark, error) {
	if c.checker == nil {
		return nil, fmt.Errorf("live dead-link check requested without a link checker")
	}

	urls := make([]string, len(bookmarks))
	for i, b := range bookmarks {
		urls[i] = b.URL
	}

	results, err := c.checker.CheckLinks(ctx, urls, func(checked, total int) {
		logrus.Debugf("Health check progress: %d/%d", checked, total)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check links: %w", err)
	}

	if err := linkcheck.RecordResults(c.kv, results, c.now()); err != nil {
		logrus.Warnf("Failed to refresh link cache: %v", err)
	}

	return linkcheck.DeadBookmarks(bookmarks, results), nil
}
