package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/alvmarrod/bookmark-sift/internal/ai"
	"github.com/alvmarrod/bookmark-sift/internal/cleanup"
	"github.com/alvmarrod/bookmark-sift/internal/notify"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// errInterrupted is recorded on a categorization whose process went away
var errInterrupted = errors.New("interrupted")

// chunk splits bookmarks into consecutive batches of at most size
func chunk(bookmarks []storage.Bookmark, size int) [][]storage.Bookmark {
	var batches [][]storage.Bookmark
	for i := 0; i < len(bookmarks); i += size {
		batches = append(batches, bookmarks[i:min(i+size, len(bookmarks))])
	}
	return batches
}

// StartCategorization begins a background AI categorization of the whole
// collection. Copies are created under Sift/folderName, or Sift/<date> when
// folderName is empty.
func (c *Coordinator) StartCategorization(ctx context.Context, folderName string) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.categorizer == nil {
		return StartResult{}, errors.New("no categorizer configured")
	}

	running, err := c.isRunning(CategorizationKey)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{Started: false, Message: msgAlreadyRunning}, nil
	}

	bookmarks, err := c.store.ListAll(ctx)
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	batches := chunk(bookmarks, min(c.categorizeBatchSize, ai.MaxBookmarksPerRequest))

	runID := uuid.NewString()
	var st CategorizationState
	claimed, err := c.begin(CategorizationKey, &st, func() {
		now := c.timestamp()
		st = CategorizationState{
			TaskMeta: TaskMeta{
				Status:      StatusRunning,
				RunID:       runID,
				StartedAt:   now,
				HeartbeatAt: now,
			},
			Phase:          PhaseAnalyzing,
			TotalBatches:   len(batches),
			TotalBookmarks: len(bookmarks),
			Suggestions:    []storage.CategorySuggestion{},
			TargetFolder:   folderName,
		}
	})
	if err != nil {
		return StartResult{}, err
	}
	if !claimed {
		return StartResult{Started: false, Message: msgAlreadyRunning}, nil
	}

	logrus.Infof("Categorization started: %d bookmarks in %d batches", len(bookmarks), len(batches))
	c.launch(CategorizationKey, runID, func(ctx context.Context) {
		c.runCategorization(ctx, runID, batches)
	})

	return StartResult{Started: true, RunID: runID, Total: len(bookmarks)}, nil
}

func (c *Coordinator) runCategorization(ctx context.Context, runID string, batches [][]storage.Bookmark) {
	defer func() {
		if r := recover(); r != nil {
			var st CategorizationState
			c.fail(CategorizationKey, runID, &st, fmt.Errorf("panic: %v", r))
		}
	}()

	err := c.analyze(ctx, runID, batches)
	if err == nil {
		err = c.createCategories(ctx, runID)
	}
	switch {
	case errors.Is(err, ErrTaskSuperseded), errors.Is(err, context.Canceled):
		logrus.Infof("Categorization %s stopped", runID)
		return
	case err != nil:
		var st CategorizationState
		c.fail(CategorizationKey, runID, &st, err)
		return
	}

	var final CategorizationState
	err = c.checkpoint(CategorizationKey, runID, &final, func() {
		final.Status = StatusCompleted
		final.Phase = PhaseDone
		final.CompletedAt = c.timestamp()
	})
	if errors.Is(err, ErrTaskSuperseded) {
		logrus.Infof("Categorization %s stopped before completion", runID)
		return
	}
	if err != nil {
		var st CategorizationState
		c.fail(CategorizationKey, runID, &st, err)
		return
	}

	logrus.Infof("Categorization completed: %d folders, %d bookmarks copied",
		final.CategoriesCreated, final.BookmarksCopied)
	notify.Send(c.notifier, "Sift - Categorization Complete",
		fmt.Sprintf("Created %d folders with %d bookmarks", final.CategoriesCreated, final.BookmarksCopied))
}

// analyze asks the categorizer about every batch and merges the suggestions
// by folder name
func (c *Coordinator) analyze(ctx context.Context, runID string, batches [][]storage.Bookmark) error {
	for i, batch := range batches {
		if err := c.shouldStop(ctx, CategorizationKey, runID); err != nil {
			return err
		}

		suggestions, err := c.suggestBatch(ctx, batch)
		failed := err != nil
		if failed {
			if errors.Is(err, ai.ErrNoAPIKey) {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logrus.Warnf("Categorization batch %d failed: %v", i+1, err)
		}
		c.tracker.RecordAIBatch(failed)

		var st CategorizationState
		err = c.checkpoint(CategorizationKey, runID, &st, func() {
			st.Suggestions = mergeSuggestions(st.Suggestions, suggestions)
			st.CurrentBatch = i + 1
			if failed {
				st.FailedBatches++
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) suggestBatch(ctx context.Context, batch []storage.Bookmark) (out []storage.CategorySuggestion, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("batch panicked: %v", r)
		}
	}()
	return c.categorizer.SuggestCategories(ctx, batch)
}

// mergeSuggestions appends next into merged, joining groups whose folder
// names are equal
func mergeSuggestions(merged, next []storage.CategorySuggestion) []storage.CategorySuggestion {
	for _, s := range next {
		found := false
		for i := range merged {
			if merged[i].FolderName == s.FolderName {
				merged[i].Bookmarks = append(merged[i].Bookmarks, s.Bookmarks...)
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, storage.CategorySuggestion{
				FolderName: s.FolderName,
				Bookmarks:  append([]storage.Bookmark{}, s.Bookmarks...),
			})
		}
	}
	return merged
}

// createCategories copies every suggested bookmark into one folder per
// category, persisting progress after each created node
func (c *Coordinator) createCategories(ctx context.Context, runID string) error {
	var st CategorizationState
	err := c.checkpoint(CategorizationKey, runID, &st, func() {
		st.Phase = PhaseCreating
		st.TotalToCopy = 0
		for _, s := range st.Suggestions {
			st.TotalToCopy += len(s.Bookmarks)
		}
	})
	if err != nil {
		return err
	}
	if len(st.Suggestions) == 0 {
		logrus.Info("No categories suggested, nothing to create")
		return nil
	}

	if err := c.shouldStop(ctx, CategorizationKey, runID); err != nil {
		return err
	}
	root, err := cleanup.CreateSiftFolder(ctx, c.store, st.TargetFolder, c.now())
	if err != nil {
		return err
	}
	var rooted CategorizationState
	err = c.checkpoint(CategorizationKey, runID, &rooted, func() {
		rooted.RootFolderID = root.ID
	})
	if err != nil {
		return err
	}

	for _, category := range st.Suggestions {
		if err := c.shouldStop(ctx, CategorizationKey, runID); err != nil {
			return err
		}
		folder, err := c.store.CreateFolder(ctx, category.FolderName, root.ID)
		if err != nil {
			return fmt.Errorf("failed to create folder %q: %w", category.FolderName, err)
		}
		c.tracker.IncrementFoldersCreated()

		var created CategorizationState
		err = c.checkpoint(CategorizationKey, runID, &created, func() {
			created.CategoriesCreated++
		})
		if err != nil {
			return err
		}

		for _, b := range category.Bookmarks {
			if err := c.shouldStop(ctx, CategorizationKey, runID); err != nil {
				return err
			}
			if _, err := c.store.Create(ctx, b.Title, b.URL, folder.ID); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logrus.Warnf("Failed to copy %q into %q: %v", b.URL, category.FolderName, err)
				continue
			}
			c.tracker.IncrementBookmarksCopied()

			var copied CategorizationState
			err = c.checkpoint(CategorizationKey, runID, &copied, func() {
				copied.BookmarksCopied++
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// CategorizationStatus returns the persisted categorization state, idle if
// none was written
func (c *Coordinator) CategorizationStatus() (CategorizationState, error) {
	st := IdleCategorizationState()
	if _, err := c.store.GetJSON(CategorizationKey, &st); err != nil {
		return CategorizationState{}, fmt.Errorf("failed to read categorization state: %w", err)
	}
	return st, nil
}

// CancelCategorization stops a running categorization and marks it cancelled
func (c *Coordinator) CancelCategorization() (bool, error) {
	var st CategorizationState
	return c.cancel(CategorizationKey, &st)
}

// ClearCategorization resets the categorization state to idle
func (c *Coordinator) ClearCategorization() error {
	return c.clear(CategorizationKey, IdleCategorizationState())
}

// RecoverCategorization finalizes a categorization abandoned by a process
// that is gone. Folder creation cannot be replayed safely, so the run is
// closed as completed with an error rather than resumed.
func (c *Coordinator) RecoverCategorization() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runs[CategorizationKey] != nil {
		return false, nil
	}

	recovered := false
	var st CategorizationState
	err := c.store.UpdateJSON(CategorizationKey, &st, func(bool) error {
		if !st.abandoned(c.now(), c.staleAfter) {
			return errAbort
		}
		st.Status = StatusCompleted
		st.Error = errInterrupted.Error()
		st.CompletedAt = c.timestamp()
		recovered = true
		return nil
	})
	if err != nil && !errors.Is(err, errAbort) {
		return false, fmt.Errorf("failed to recover categorization: %w", err)
	}
	if recovered {
		logrus.Infof("Categorization %s recovered as interrupted (%d folders, %d bookmarks copied)",
			st.RunID, st.CategoriesCreated, st.BookmarksCopied)
	}
	return recovered, nil
}
