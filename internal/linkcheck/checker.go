package linkcheck

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/config"
	"github.com/alvmarrod/bookmark-sift/internal/metrics"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const indexKey = "sift_index"

// Checker checks URLs for liveness in rate-limited batches
type Checker struct {
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
	UserAgent  string
	tracker    *metrics.Tracker
}

// NewChecker creates a checker from the runtime configuration. tracker may be nil.
func NewChecker(cfg *config.Config, tracker *metrics.Tracker) *Checker {
	return &Checker{
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay(),
		Timeout:    cfg.RequestTimeout(),
		UserAgent:  cfg.UserAgent,
		tracker:    tracker,
	}
}

// newCollector configures a Colly collector for HEAD-only reachability checks
func (c *Checker) newCollector() *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.UserAgent(c.UserAgent),
	)

	// Bounded per-URL timeout
	collector.SetRequestTimeout(c.Timeout)

	// Deliver 4xx/5xx to OnResponse so they can be classified
	collector.ParseHTTPErrorResponse = true

	// Full parallelism within a batch
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.BatchSize,
	}); err != nil {
		logrus.Warnf("Failed to set collector limits: %v", err)
	}

	return collector
}

// CheckLinks returns one result per input URL, in input order. onProgress
// (optional) is called with (checkedSoFar, total) after every batch. The
// returned error is non-nil only when ctx ends before all batches ran; the
// results checked so far are returned with it.
func (c *Checker) CheckLinks(ctx context.Context, urls []string, onProgress func(checked, total int)) ([]storage.LinkCheckResult, error) {
	results := make([]storage.LinkCheckResult, 0, len(urls))
	batchSize := c.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for i := 0; i < len(urls); i += batchSize {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		end := min(i+batchSize, len(urls))
		results = append(results, c.checkBatch(urls[i:end])...)

		if onProgress != nil {
			onProgress(len(results), len(urls))
		}

		// Rate limiting between batches
		if end < len(urls) && c.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.BatchDelay):
			}
		}
	}

	return results, nil
}

// checkBatch fires every URL of the batch at once and waits for all of them
func (c *Checker) checkBatch(urls []string) []storage.LinkCheckResult {
	batch := make([]storage.LinkCheckResult, len(urls))
	filled := make([]bool, len(urls))
	started := make([]time.Time, len(urls))
	var mu sync.Mutex

	record := func(idx int, res storage.LinkCheckResult) {
		mu.Lock()
		defer mu.Unlock()
		if idx < 0 || idx >= len(batch) || filled[idx] {
			return
		}
		batch[idx] = res
		filled[idx] = true
		if c.tracker != nil {
			c.tracker.RecordCheck(res.Status, time.Since(started[idx]))
		}
	}

	collector := c.newCollector()

	collector.OnResponse(func(r *colly.Response) {
		idx := requestIndex(r)
		record(idx, storage.LinkCheckResult{
			URL:        urls[max(idx, 0)],
			Status:     Classify(r.StatusCode),
			StatusCode: r.StatusCode,
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		idx := requestIndex(r)
		status := storage.StatusError
		if isTimeout(err) {
			status = storage.StatusTimeout
		}
		logrus.Debugf("Check failed for %s: %v", urls[max(idx, 0)], err)
		record(idx, storage.LinkCheckResult{URL: urls[max(idx, 0)], Status: status})
	})

	for idx, u := range urls {
		ctx := colly.NewContext()
		ctx.Put(indexKey, idx)
		started[idx] = time.Now()

		// Synchronous failures (malformed URL, unsupported scheme) never reach the callbacks
		if err := collector.Request(http.MethodHead, u, nil, ctx, nil); err != nil {
			logrus.Debugf("Check rejected for %s: %v", u, err)
			record(idx, storage.LinkCheckResult{URL: u, Status: storage.StatusError})
		}
	}

	collector.Wait()

	for idx, ok := range filled {
		if !ok {
			batch[idx] = storage.LinkCheckResult{URL: urls[idx], Status: storage.StatusError}
		}
	}
	return batch
}

// requestIndex recovers the batch slot stored in the request context
func requestIndex(r *colly.Response) int {
	if r == nil || r.Ctx == nil {
		return -1
	}
	idx, ok := r.Ctx.GetAny(indexKey).(int)
	if !ok {
		return -1
	}
	return idx
}

// Classify maps an HTTP status to a verdict. Only definitive "gone" codes
// are dead; everything else that answered is alive.
func Classify(statusCode int) storage.LinkStatus {
	switch statusCode {
	case http.StatusNotFound, http.StatusGone:
		return storage.StatusDead
	default:
		return storage.StatusAlive
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// DeadBookmarks returns the bookmarks whose URL came back dead
func DeadBookmarks(bookmarks []storage.Bookmark, results []storage.LinkCheckResult) []storage.Bookmark {
	dead := make(map[string]bool)
	for _, r := range results {
		if r.Status == storage.StatusDead {
			dead[r.URL] = true
		}
	}

	var out []storage.Bookmark
	for _, b := range bookmarks {
		if dead[b.URL] {
			out = append(out, b)
		}
	}
	return out
}
