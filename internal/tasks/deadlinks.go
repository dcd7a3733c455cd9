package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/alvmarrod/bookmark-sift/internal/linkcheck"
	"github.com/alvmarrod/bookmark-sift/internal/notify"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// deadLinkWorkload is what a scan starts from
type deadLinkWorkload struct {
	total      int
	toCheck    []storage.Bookmark
	cachedDead []storage.Bookmark
}

// planDeadLinkCheck lists the bookmarks and drops those the cache answers
func (c *Coordinator) planDeadLinkCheck(ctx context.Context) (deadLinkWorkload, error) {
	cfg, err := c.settings.Get()
	if err != nil {
		return deadLinkWorkload{}, err
	}
	bookmarks, err := c.store.ListAll(ctx)
	if err != nil {
		return deadLinkWorkload{}, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	cache, err := linkcheck.LoadCache(c.store)
	if err != nil {
		return deadLinkWorkload{}, err
	}

	filtered := linkcheck.FilterBookmarksToCheck(bookmarks, cache, cfg.DeadLinkRefreshDays, c.now())
	return deadLinkWorkload{
		total:      len(bookmarks),
		toCheck:    filtered.BookmarksToCheck,
		cachedDead: filtered.CachedDeadLinks,
	}, nil
}

// initialState is the first running state of a scan over w
func (w deadLinkWorkload) initialState(c *Coordinator, runID string) DeadLinkCheckState {
	now := c.timestamp()
	dead := append([]storage.Bookmark{}, w.cachedDead...)
	return DeadLinkCheckState{
		TaskMeta: TaskMeta{
			Status:      StatusRunning,
			RunID:       runID,
			StartedAt:   now,
			HeartbeatAt: now,
		},
		Total:           len(w.toCheck),
		TotalBatches:    (len(w.toCheck) + c.taskBatchSize - 1) / c.taskBatchSize,
		DeadLinks:       dead,
		CachedDeadCount: len(w.cachedDead),
		Skipped:         w.total - len(w.toCheck),
	}
}

// resumedState is the running state taking over prev. It keeps the dead
// links and counts prev already persisted, adding only cached dead links it
// did not know about.
func (w deadLinkWorkload) resumedState(c *Coordinator, runID string, prev DeadLinkCheckState) DeadLinkCheckState {
	st := w.initialState(c, runID)
	st.StartedAt = prev.StartedAt

	known := make(map[string]bool, len(prev.DeadLinks))
	for _, b := range prev.DeadLinks {
		known[b.ID] = true
	}
	dead := append([]storage.Bookmark{}, prev.DeadLinks...)
	added := 0
	for _, b := range w.cachedDead {
		if !known[b.ID] {
			dead = append(dead, b)
			added++
		}
	}

	st.DeadLinks = dead
	st.NewDeadCount = prev.NewDeadCount
	st.CachedDeadCount = prev.CachedDeadCount + added
	return st
}

// StartDeadLinkCheck begins a background scan unless one is already running.
// It returns as soon as the running state is persisted.
func (c *Coordinator) StartDeadLinkCheck(ctx context.Context) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cheap refusal before listing the whole collection
	running, err := c.isRunning(DeadLinkCheckKey)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{Started: false, Message: msgAlreadyRunning}, nil
	}

	w, err := c.planDeadLinkCheck(ctx)
	if err != nil {
		return StartResult{}, err
	}

	return c.startDeadLinkRun(w, func(st *DeadLinkCheckState, runID string) (bool, error) {
		return c.begin(DeadLinkCheckKey, st, func() {
			*st = w.initialState(c, runID)
		})
	})
}

// ResumeDeadLinkCheck takes over a scan left running by a process that is
// gone, detected by a heartbeat older than the stale threshold. The dead links
// it already found are kept, and the URLs it checked are fresh in the cache so
// they are not checked again.
func (c *Coordinator) ResumeDeadLinkCheck(ctx context.Context) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runs[DeadLinkCheckKey] != nil {
		return StartResult{Started: false, Message: msgAlreadyRunning}, nil
	}

	current, err := c.DeadLinkStatus()
	if err != nil {
		return StartResult{}, err
	}
	if current.Status != StatusRunning {
		return StartResult{Started: false, Message: "no interrupted check to resume"}, nil
	}
	if !current.abandoned(c.now(), c.staleAfter) {
		return StartResult{Started: false, Message: msgAlreadyRunning}, nil
	}

	w, err := c.planDeadLinkCheck(ctx)
	if err != nil {
		return StartResult{}, err
	}

	return c.startDeadLinkRun(w, func(st *DeadLinkCheckState, runID string) (bool, error) {
		taken := false
		err := c.store.UpdateJSON(DeadLinkCheckKey, st, func(bool) error {
			// Another process may have resumed or finished it meanwhile
			if st.RunID != current.RunID || !st.abandoned(c.now(), c.staleAfter) {
				return errAbort
			}
			*st = w.resumedState(c, runID, *st)
			taken = true
			return nil
		})
		if err != nil && !errors.Is(err, errAbort) {
			return false, fmt.Errorf("failed to resume dead-link check: %w", err)
		}
		if taken {
			logrus.Infof("Resuming dead-link check abandoned by run %s", current.RunID)
		}
		return taken, nil
	})
}

// startDeadLinkRun claims the state through claim and launches the loop.
// Callers hold c.mu.
func (c *Coordinator) startDeadLinkRun(w deadLinkWorkload, claim func(st *DeadLinkCheckState, runID string) (bool, error)) (StartResult, error) {
	runID := uuid.NewString()

	var st DeadLinkCheckState
	claimed, err := claim(&st, runID)
	if err != nil {
		return StartResult{}, err
	}
	if !claimed {
		return StartResult{Started: false, Message: msgAlreadyRunning}, nil
	}

	c.tracker.AddCacheSkipped(st.Skipped)
	logrus.Infof("Dead-link check started: %d to check, %d answered by cache (%d cached dead)",
		st.Total, st.Skipped, st.CachedDeadCount)

	c.launch(DeadLinkCheckKey, runID, func(ctx context.Context) {
		c.runDeadLinkCheck(ctx, runID, w.toCheck)
	})

	return StartResult{
		Started:    true,
		RunID:      runID,
		Total:      st.Total,
		Skipped:    st.Skipped,
		CachedDead: st.CachedDeadCount,
	}, nil
}

// runDeadLinkCheck is the background batch loop of one scan
func (c *Coordinator) runDeadLinkCheck(ctx context.Context, runID string, toCheck []storage.Bookmark) {
	defer func() {
		if r := recover(); r != nil {
			var st DeadLinkCheckState
			c.fail(DeadLinkCheckKey, runID, &st, fmt.Errorf("panic: %v", r))
		}
	}()

	err := c.deadLinkLoop(ctx, runID, toCheck)
	switch {
	case errors.Is(err, ErrTaskSuperseded), errors.Is(err, context.Canceled):
		logrus.Infof("Dead-link check %s stopped", runID)
		return
	case err != nil:
		var st DeadLinkCheckState
		c.fail(DeadLinkCheckKey, runID, &st, err)
		return
	}

	var final DeadLinkCheckState
	err = c.checkpoint(DeadLinkCheckKey, runID, &final, func() {
		final.Status = StatusCompleted
		final.CompletedAt = c.timestamp()
		final.Checked = final.Total
		final.CurrentBatch = final.TotalBatches
	})
	if errors.Is(err, ErrTaskSuperseded) {
		logrus.Infof("Dead-link check %s stopped before completion", runID)
		return
	}
	if err != nil {
		var st DeadLinkCheckState
		c.fail(DeadLinkCheckKey, runID, &st, err)
		return
	}

	logrus.Infof("Dead-link check completed: %d dead (%d new, %d cached) of %d checked",
		len(final.DeadLinks), final.NewDeadCount, final.CachedDeadCount, final.Total)
	notify.Send(c.notifier, "Sift - Dead Link Check Complete", deadLinkSummary(final))
}

func (c *Coordinator) deadLinkLoop(ctx context.Context, runID string, toCheck []storage.Bookmark) error {
	for i, batchNum := 0, 1; i < len(toCheck); i, batchNum = i+c.taskBatchSize, batchNum+1 {
		if err := c.shouldStop(ctx, DeadLinkCheckKey, runID); err != nil {
			return err
		}

		end := min(i+c.taskBatchSize, len(toCheck))
		dead, err := c.checkDeadLinkBatch(ctx, toCheck[i:end])
		failed := err != nil
		if failed {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// One bad batch never aborts the scan
			logrus.Warnf("Dead-link batch %d failed: %v", batchNum, err)
			c.tracker.IncrementBatchesFailed()
		}

		var st DeadLinkCheckState
		err = c.checkpoint(DeadLinkCheckKey, runID, &st, func() {
			st.Checked = end
			st.CurrentBatch = batchNum
			st.DeadLinks = append(st.DeadLinks, dead...)
			st.NewDeadCount += len(dead)
			if failed {
				st.FailedBatches++
			}
		})
		if err != nil {
			return err
		}
		logrus.Debugf("Dead-link check progress: %d/%d", end, len(toCheck))
	}
	return nil
}

// checkDeadLinkBatch checks one batch, records the verdicts in the cache and
// returns the bookmarks found dead
func (c *Coordinator) checkDeadLinkBatch(ctx context.Context, batch []storage.Bookmark) (dead []storage.Bookmark, err error) {
	defer func() {
		if r := recover(); r != nil {
			dead, err = nil, fmt.Errorf("batch panicked: %v", r)
		}
	}()

	urls := make([]string, len(batch))
	for i, b := range batch {
		urls[i] = b.URL
	}

	results, err := c.checker.CheckLinks(ctx, urls, nil)
	if err != nil {
		return nil, err
	}
	if len(results) != len(batch) {
		return nil, fmt.Errorf("checker returned %d results for %d urls", len(results), len(batch))
	}

	if err := linkcheck.RecordResults(c.store, results, c.now()); err != nil {
		logrus.Warnf("Failed to update link cache: %v", err)
	}

	for i, r := range results {
		if r.Status == storage.StatusDead {
			dead = append(dead, batch[i])
		}
	}
	return dead, nil
}

func deadLinkSummary(st DeadLinkCheckState) string {
	n := len(st.DeadLinks)
	if n == 0 {
		return fmt.Sprintf("All %d bookmarks checked are working!", st.Total)
	}
	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("Found %d dead link%s (%d new, %d cached) out of %d bookmarks checked.",
		n, plural, st.NewDeadCount, st.CachedDeadCount, st.Total)
}

// DeadLinkStatus returns the persisted scan state, idle if none was written
func (c *Coordinator) DeadLinkStatus() (DeadLinkCheckState, error) {
	st := IdleDeadLinkState()
	if _, err := c.store.GetJSON(DeadLinkCheckKey, &st); err != nil {
		return DeadLinkCheckState{}, fmt.Errorf("failed to read dead-link state: %w", err)
	}
	return st, nil
}

// CancelDeadLinkCheck stops a running scan and marks it cancelled at once
func (c *Coordinator) CancelDeadLinkCheck() (bool, error) {
	var st DeadLinkCheckState
	return c.cancel(DeadLinkCheckKey, &st)
}

// ClearDeadLinkResults resets the scan state to idle
func (c *Coordinator) ClearDeadLinkResults() error {
	return c.clear(DeadLinkCheckKey, IdleDeadLinkState())
}
