// Package tasks runs the long-lived, cancellable batch jobs (dead-link scan
// and AI categorization) and persists their progress after every step so any
// process can observe, cancel or take them over.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/config"
	"github.com/alvmarrod/bookmark-sift/internal/linkcheck"
	"github.com/alvmarrod/bookmark-sift/internal/metrics"
	"github.com/alvmarrod/bookmark-sift/internal/notify"
	"github.com/alvmarrod/bookmark-sift/internal/settings"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/sirupsen/logrus"
)

// Store is the persisted state and bookmark tree the tasks operate on
type Store interface {
	linkcheck.Store
	ListAll(ctx context.Context) ([]storage.Bookmark, error)
	Tree(ctx context.Context) (storage.Node, error)
	Create(ctx context.Context, title, url, parentID string) (storage.Bookmark, error)
	CreateFolder(ctx context.Context, title, parentID string) (storage.Folder, error)
}

// LinkChecker checks URLs for liveness
type LinkChecker interface {
	CheckLinks(ctx context.Context, urls []string, onProgress func(checked, total int)) ([]storage.LinkCheckResult, error)
}

// Categorizer suggests folder groupings for one batch of bookmarks
type Categorizer interface {
	SuggestCategories(ctx context.Context, batch []storage.Bookmark) ([]storage.CategorySuggestion, error)
}

// run is a task owned by this process
type run struct {
	id     string
	cancel context.CancelFunc
}

// Coordinator starts, tracks and stops the background tasks
type Coordinator struct {
	store       Store
	settings    *settings.Service
	checker     LinkChecker
	categorizer Categorizer
	notifier    notify.Notifier
	tracker     *metrics.Tracker

	taskBatchSize       int
	categorizeBatchSize int
	staleAfter          time.Duration
	now                 func() time.Time

	// mu serializes lifecycle transitions within this process
	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator. categorizer and notifier may be nil.
func NewCoordinator(cfg *config.Config, store Store, svc *settings.Service, checker LinkChecker, categorizer Categorizer, notifier notify.Notifier, tracker *metrics.Tracker) *Coordinator {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	return &Coordinator{
		store:               store,
		settings:            svc,
		checker:             checker,
		categorizer:         categorizer,
		notifier:            notifier,
		tracker:             tracker,
		taskBatchSize:       max(cfg.TaskBatchSize, 1),
		categorizeBatchSize: max(cfg.CategorizeBatchSize, 1),
		staleAfter:          cfg.StaleTaskAfter(),
		now:                 time.Now,
		runs:                make(map[string]*run),
	}
}

// Wait blocks until every task started by this process has returned
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Running reports whether this process currently owns a run of key
func (c *Coordinator) Running(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[key] != nil
}

func (c *Coordinator) timestamp() *time.Time {
	t := c.now()
	return &t
}

// launch registers runID as the local owner of key and starts fn in the
// background. Callers hold c.mu.
func (c *Coordinator) launch(key, runID string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	c.runs[key] = &run{id: runID, cancel: cancel}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(key, runID)
		fn(ctx)
	}()
}

func (c *Coordinator) release(key, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.runs[key]; r != nil && r.id == runID {
		r.cancel()
		delete(c.runs, key)
	}
}

// cancelLocal stops the in-process run of key, if any. Callers hold c.mu.
func (c *Coordinator) cancelLocal(key string) {
	if r := c.runs[key]; r != nil {
		r.cancel()
	}
}

// isRunning reads whether the persisted state of key is running
func (c *Coordinator) isRunning(key string) (bool, error) {
	var meta TaskMeta
	if _, err := c.store.GetJSON(key, &meta); err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return meta.Status == StatusRunning, nil
}

// begin atomically moves key from any non-running state to the fresh
// running state written by init. It reports false if a run already holds it.
func (c *Coordinator) begin(key string, state metaHolder, init func()) (bool, error) {
	err := c.store.UpdateJSON(key, state, func(bool) error {
		if state.taskMeta().Status == StatusRunning {
			return errAbort
		}
		init()
		return nil
	})
	if errors.Is(err, errAbort) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to start %s: %w", key, err)
	}
	return true, nil
}

// errAbort leaves a read-modify-write without writing anything
var errAbort = errors.New("abort update")

// checkpoint applies fn to the persisted state of key only while runID owns
// it, refreshing the heartbeat. state must be a fresh zero value.
func (c *Coordinator) checkpoint(key, runID string, state metaHolder, fn func()) error {
	return c.store.UpdateJSON(key, state, func(exists bool) error {
		m := state.taskMeta()
		if !exists || !m.ownedBy(runID) {
			return ErrTaskSuperseded
		}
		fn()
		m.HeartbeatAt = c.timestamp()
		return nil
	})
}

// shouldStop is evaluated before every unit of work: the in-process cancel
// and the persisted state must both still allow runID to continue
func (c *Coordinator) shouldStop(ctx context.Context, key, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var meta TaskMeta
	found, err := c.store.GetJSON(key, &meta)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found || !meta.ownedBy(runID) {
		return ErrTaskSuperseded
	}
	return nil
}

// cancel writes the persisted cancellation for key and stops a local run
func (c *Coordinator) cancel(key string, state metaHolder) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocal(key)

	cancelled := false
	err := c.store.UpdateJSON(key, state, func(bool) error {
		m := state.taskMeta()
		if m.Status != StatusRunning {
			return errAbort
		}
		m.Status = StatusCancelled
		m.CancellationRequested = true
		m.CompletedAt = c.timestamp()
		cancelled = true
		return nil
	})
	if err != nil && !errors.Is(err, errAbort) {
		return false, fmt.Errorf("failed to cancel %s: %w", key, err)
	}
	if cancelled {
		logrus.Infof("Task %s cancelled", key)
	}
	return cancelled, nil
}

// clear resets key to its idle default
func (c *Coordinator) clear(key string, idle any) error {
	if err := c.store.SetJSON(key, idle); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	logrus.Infof("Task %s cleared", key)
	return nil
}

// fail finalizes a run that hit a task-level error as completed with the
// error recorded. A state already taken from the run is left as is.
func (c *Coordinator) fail(key, runID string, state metaHolder, cause error) {
	logrus.Errorf("Task %s failed: %v", key, cause)
	err := c.checkpoint(key, runID, state, func() {
		m := state.taskMeta()
		m.Status = StatusCompleted
		m.Error = cause.Error()
		m.CompletedAt = c.timestamp()
	})
	if err != nil && !errors.Is(err, ErrTaskSuperseded) {
		logrus.Errorf("Failed to record failure of %s: %v", key, err)
	}
}
