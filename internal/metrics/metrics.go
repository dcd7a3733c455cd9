package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

// Tracker holds and manages run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalCheckTimeMs int64
	checkCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// RecordCheck counts one reachability check by verdict
func (t *Tracker) RecordCheck(status storage.LinkStatus, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.LinksChecked++
	switch status {
	case storage.StatusAlive:
		t.data.LinksAlive++
	case storage.StatusDead:
		t.data.LinksDead++
	case storage.StatusTimeout:
		t.data.LinksTimedOut++
	default:
		t.data.LinksErrored++
	}

	t.totalCheckTimeMs += duration.Milliseconds()
	t.checkCount++
}

// AddCacheSkipped counts URLs answered from the cache
func (t *Tracker) AddCacheSkipped(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.CacheSkipped += n
}

// IncrementBatchesFailed counts a batch that raised and was skipped
func (t *Tracker) IncrementBatchesFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.BatchesFailed++
}

// RecordAIBatch counts one AI request
func (t *Tracker) RecordAIBatch(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.AIBatches++
	if failed {
		t.data.AIBatchesFailed++
	}
}

// IncrementFoldersCreated increments the created folders counter
func (t *Tracker) IncrementFoldersCreated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.FoldersCreated++
}

// IncrementBookmarksCopied increments the copied bookmarks counter
func (t *Tracker) IncrementBookmarksCopied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.BookmarksCopied++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() storage.Metrics {
	snapshot := t.data
	snapshot.TotalCheckTimeMs = t.totalCheckTimeMs
	if t.checkCount > 0 {
		snapshot.AvgCheckTimeMs = t.totalCheckTimeMs / int64(t.checkCount)
	}
	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	final := t.snapshotLocked()
	t.mu.Unlock()

	jsonData, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console output
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Links: %d checked (%d alive, %d dead, %d timeout, %d error), %d cached | AI: %d batches, %d failed | Created: %d folders, %d bookmarks",
		t.data.LinksChecked,
		t.data.LinksAlive,
		t.data.LinksDead,
		t.data.LinksTimedOut,
		t.data.LinksErrored,
		t.data.CacheSkipped,
		t.data.AIBatches,
		t.data.AIBatchesFailed,
		t.data.FoldersCreated,
		t.data.BookmarksCopied,
	)
}
