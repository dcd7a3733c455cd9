package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/ai"
	"github.com/alvmarrod/bookmark-sift/internal/cleanup"
	"github.com/alvmarrod/bookmark-sift/internal/dedup"
	"github.com/alvmarrod/bookmark-sift/internal/health"
	"github.com/alvmarrod/bookmark-sift/internal/history"
	"github.com/alvmarrod/bookmark-sift/internal/settings"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/alvmarrod/bookmark-sift/internal/tasks"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const pollInterval = 2 * time.Second

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "import",
			Usage:     "import a browser bookmark export (Netscape HTML)",
			ArgsUsage: "<file.html>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "parent", Value: storage.OtherBookmarkID, Usage: "folder id to import into"},
			},
			Action: withEnv(importAction),
		},
		{
			Name:  "health",
			Usage: "show the health score and its signals",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "live", Usage: "check every link now instead of using the cache (default: autoCheckDeadLinks setting)"},
				&cli.BoolFlag{Name: "json", Usage: "print the full snapshot as JSON"},
			},
			Action: withEnv(healthAction),
		},
		{
			Name:  "duplicates",
			Usage: "list bookmarks sharing a normalized URL",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "remove", Usage: "keep the newest of each group and delete the rest"},
			},
			Action: withEnv(duplicatesAction),
		},
		{
			Name:  "stale",
			Usage: "list bookmarks not visited within staleThresholdDays",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "delete", Usage: "delete the stale bookmarks"},
			},
			Action: withEnv(staleAction),
		},
		{
			Name:      "search",
			Usage:     "find bookmarks by title or URL",
			ArgsUsage: "<query>",
			Action:    withEnv(searchAction),
		},
		{
			Name:   "sort",
			Usage:  "sort every folder, subfolders first, alphabetically",
			Action: withEnv(sortAction),
		},
		{
			Name:  "settings",
			Usage: "show or change user settings",
			Subcommands: []*cli.Command{
				{Name: "get", Usage: "print the current settings", Action: withEnv(settingsGetAction)},
				{Name: "set", Usage: "update settings", ArgsUsage: "key=value...", Action: withEnv(settingsSetAction)},
			},
		},
		{
			Name:  "deadlinks",
			Usage: "background dead-link check",
			Subcommands: []*cli.Command{
				{Name: "start", Usage: "start a check and follow it", Action: withEnv(deadLinksStartAction)},
				{Name: "resume", Usage: "take over a check whose process is gone", Action: withEnv(deadLinksResumeAction)},
				{Name: "status", Usage: "print the check state", Action: withEnv(deadLinksStatusAction)},
				{Name: "cancel", Usage: "cancel a running check", Action: withEnv(deadLinksCancelAction)},
				{Name: "clear", Usage: "reset the check state", Action: withEnv(deadLinksClearAction)},
				{Name: "remove", Usage: "delete the dead links found by the last check", Action: withEnv(deadLinksRemoveAction)},
			},
		},
		{
			Name:  "categorize",
			Usage: "AI categorization into a Sift folder",
			Subcommands: []*cli.Command{
				{
					Name:  "start",
					Usage: "start a categorization and follow it",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "folder", Usage: "name of the folder created under Sift (default: today's date)"},
					},
					Action: withEnv(categorizeStartAction),
				},
				{Name: "status", Usage: "print the categorization state", Action: withEnv(categorizeStatusAction)},
				{Name: "cancel", Usage: "cancel a running categorization", Action: withEnv(categorizeCancelAction)},
				{Name: "clear", Usage: "reset the categorization state", Action: withEnv(categorizeClearAction)},
				{Name: "recover", Usage: "close a categorization whose process is gone", Action: withEnv(categorizeRecoverAction)},
			},
		},
		{
			Name:  "renames",
			Usage: "suggest better titles for bookmarks with unclear ones",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "apply", Usage: "rename the bookmarks"},
			},
			Action: withEnv(renamesAction),
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// printBookmarks lists bookmarks with the folder path they live in
func printBookmarks(c *cli.Context, e *env, bookmarks []storage.Bookmark) error {
	ids := make([]string, len(bookmarks))
	for i, b := range bookmarks {
		ids[i] = b.ID
	}
	paths, err := cleanup.BookmarkPaths(c.Context, e.store, ids)
	if err != nil {
		return err
	}
	for _, b := range bookmarks {
		fmt.Printf("  %-6s %-40s %s\n", b.ID, truncate(b.Title, 40), b.URL)
		fmt.Printf("         in %s\n", paths[b.ID])
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func importAction(c *cli.Context, e *env) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("missing export file")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	stats, err := e.store.ImportNetscape(c.Context, f, c.String("parent"))
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d bookmarks in %d folders\n", stats.Bookmarks, stats.Folders)
	return nil
}

func healthAction(c *cli.Context, e *env) error {
	live := c.Bool("live")
	if !c.IsSet("live") {
		s, err := e.settings.Get()
		if err != nil {
			return err
		}
		live = s.AutoCheckDeadLinks
	}

	calc := health.NewCalculator(e.store, e.store, e.settings, e.history, e.checker)
	m, err := calc.Calculate(c.Context, live)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(m)
	}

	fmt.Printf("Health score: %d/100\n\n", m.HealthScore)
	fmt.Printf("  Bookmarks:      %d\n", m.TotalBookmarks)
	fmt.Printf("  Folders:        %d\n", m.TotalFolders)
	fmt.Printf("  Duplicates:     %d in %d groups\n", dedup.DuplicateCount(m.Duplicates), len(m.Duplicates))
	fmt.Printf("  Dead links:     %d\n", len(m.DeadLinks))
	fmt.Printf("  Stale:          %d\n", len(m.StaleBookmarks))
	fmt.Printf("  Uncategorized:  %d\n", m.UncategorizedCount)
	if len(m.DomainDistribution) > 0 {
		fmt.Println("\nTop domains:")
		for _, d := range m.DomainDistribution[:min(5, len(m.DomainDistribution))] {
			fmt.Printf("  %-30s %5d  %3d%%\n", d.Domain, d.Count, d.Percentage)
		}
	}
	return nil
}

func duplicatesAction(c *cli.Context, e *env) error {
	all, err := e.store.ListAll(c.Context)
	if err != nil {
		return err
	}
	groups := dedup.FindDuplicates(all)
	if len(groups) == 0 {
		fmt.Println("No duplicates found")
		return nil
	}

	for _, g := range groups {
		fmt.Printf("%s (%d)\n", g.NormalizedURL, len(g.Bookmarks))
		if err := printBookmarks(c, e, g.Bookmarks); err != nil {
			return err
		}
	}
	fmt.Printf("\nTotal: %d duplicates in %d groups\n", dedup.DuplicateCount(groups), len(groups))

	if !c.Bool("remove") {
		return nil
	}
	removed, err := cleanup.RemoveDuplicates(c.Context, e.store, groups)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d bookmarks\n", removed)
	return nil
}

func staleAction(c *cli.Context, e *env) error {
	s, err := e.settings.Get()
	if err != nil {
		return err
	}
	all, err := e.store.ListAll(c.Context)
	if err != nil {
		return err
	}
	stale, err := history.StaleBookmarks(c.Context, e.history, all, s.StaleThresholdDays, time.Now())
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Printf("No bookmarks unvisited for %d days\n", s.StaleThresholdDays)
		return nil
	}

	if err := printBookmarks(c, e, stale); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d stale bookmarks (threshold %d days)\n", len(stale), s.StaleThresholdDays)

	if !c.Bool("delete") {
		return nil
	}
	deleted, err := cleanup.DeleteBookmarks(c.Context, e.store, stale)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d bookmarks\n", deleted)
	return nil
}

func searchAction(c *cli.Context, e *env) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return errors.New("missing query")
	}
	found, err := e.store.Search(c.Context, query)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No bookmarks found")
		return nil
	}
	if err := printBookmarks(c, e, found); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d bookmarks\n", len(found))
	return nil
}

func sortAction(c *cli.Context, e *env) error {
	n, err := cleanup.SortAllFolders(c.Context, e.store)
	if err != nil {
		return err
	}
	fmt.Printf("Sorted %d folders\n", n)
	return nil
}

func settingsGetAction(c *cli.Context, e *env) error {
	s, err := e.settings.Get()
	if err != nil {
		return err
	}
	if s.ClaudeAPIKey != "" {
		s.ClaudeAPIKey = "set"
	}
	return printJSON(s)
}

func settingsSetAction(c *cli.Context, e *env) error {
	p, err := settings.ParseAssignments(c.Args().Slice())
	if err != nil {
		return err
	}
	s, err := e.settings.Save(p)
	if err != nil {
		return err
	}
	if s.ClaudeAPIKey != "" {
		s.ClaudeAPIKey = "set"
	}
	return printJSON(s)
}

// follow logs task progress until the coordinator's runs finish. An
// interrupt requests cancellation and waits for the run to wind down.
func follow(e *env, progress func() (string, error), cancel func() (bool, error)) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	go func() {
		e.coordinator.Wait()
		close(done)
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			line, err := progress()
			if err != nil {
				logrus.Warnf("Failed to read progress: %v", err)
				continue
			}
			logrus.Info(line)
		case sig := <-sigChan:
			logrus.Infof("Received signal: %v, cancelling", sig)
			if _, err := cancel(); err != nil {
				logrus.Errorf("Failed to cancel: %v", err)
			}
			<-done
			return
		case <-done:
			return
		}
	}
}

func deadLinkProgress(e *env) func() (string, error) {
	return func() (string, error) {
		st, err := e.coordinator.DeadLinkStatus()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Dead-link check %s: %d/%d checked, batch %d/%d, %d dead",
			st.Status, st.Checked, st.Total, st.CurrentBatch, st.TotalBatches, len(st.DeadLinks)), nil
	}
}

func printDeadLinkState(c *cli.Context, e *env, st tasks.DeadLinkCheckState) error {
	fmt.Printf("Status: %s\n", st.Status)
	if st.Status == tasks.StatusIdle {
		return nil
	}
	fmt.Printf("Progress: %d/%d checked, batch %d/%d (%d skipped by cache)\n",
		st.Checked, st.Total, st.CurrentBatch, st.TotalBatches, st.Skipped)
	if st.FailedBatches > 0 {
		fmt.Printf("Failed batches: %d\n", st.FailedBatches)
	}
	if st.Error != "" {
		fmt.Printf("Error: %s\n", st.Error)
	}
	fmt.Printf("Dead links: %d (%d new, %d cached)\n", len(st.DeadLinks), st.NewDeadCount, st.CachedDeadCount)
	return printBookmarks(c, e, st.DeadLinks)
}

func runDeadLinkCheck(c *cli.Context, e *env, res tasks.StartResult) error {
	if !res.Started {
		fmt.Printf("Not started: %s\n", res.Message)
		return nil
	}
	fmt.Printf("Checking %d bookmarks (%d answered by cache, %d cached dead)\n", res.Total, res.Skipped, res.CachedDead)

	follow(e, deadLinkProgress(e), e.coordinator.CancelDeadLinkCheck)

	st, err := e.coordinator.DeadLinkStatus()
	if err != nil {
		return err
	}
	logrus.Info("Final stats: " + e.tracker.LogProgress())
	return printDeadLinkState(c, e, st)
}

func deadLinksStartAction(c *cli.Context, e *env) error {
	res, err := e.coordinator.StartDeadLinkCheck(c.Context)
	if err != nil {
		return err
	}
	return runDeadLinkCheck(c, e, res)
}

func deadLinksResumeAction(c *cli.Context, e *env) error {
	res, err := e.coordinator.ResumeDeadLinkCheck(c.Context)
	if err != nil {
		return err
	}
	return runDeadLinkCheck(c, e, res)
}

func deadLinksStatusAction(c *cli.Context, e *env) error {
	st, err := e.coordinator.DeadLinkStatus()
	if err != nil {
		return err
	}
	return printDeadLinkState(c, e, st)
}

func deadLinksCancelAction(c *cli.Context, e *env) error {
	ok, err := e.coordinator.CancelDeadLinkCheck()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No dead-link check running")
		return nil
	}
	fmt.Println("Dead-link check cancelled")
	return nil
}

func deadLinksClearAction(c *cli.Context, e *env) error {
	if err := e.coordinator.ClearDeadLinkResults(); err != nil {
		return err
	}
	fmt.Println("Dead-link results cleared")
	return nil
}

func deadLinksRemoveAction(c *cli.Context, e *env) error {
	st, err := e.coordinator.DeadLinkStatus()
	if err != nil {
		return err
	}
	if st.Status == tasks.StatusRunning {
		return errors.New("a dead-link check is still running")
	}
	deleted, err := cleanup.DeleteBookmarks(c.Context, e.store, st.DeadLinks)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d dead links\n", deleted)
	return e.coordinator.ClearDeadLinkResults()
}

func printCategorizationState(st tasks.CategorizationState) {
	fmt.Printf("Status: %s", st.Status)
	if st.Phase != "" {
		fmt.Printf(" (%s)", st.Phase)
	}
	fmt.Println()
	if st.Status == tasks.StatusIdle {
		return
	}
	fmt.Printf("Analyzed: batch %d/%d over %d bookmarks\n", st.CurrentBatch, st.TotalBatches, st.TotalBookmarks)
	if st.FailedBatches > 0 {
		fmt.Printf("Failed batches: %d\n", st.FailedBatches)
	}
	fmt.Printf("Created: %d/%d folders, %d/%d bookmarks copied\n",
		st.CategoriesCreated, len(st.Suggestions), st.BookmarksCopied, st.TotalToCopy)
	if st.Error != "" {
		fmt.Printf("Error: %s\n", st.Error)
	}
	for _, s := range st.Suggestions {
		fmt.Printf("  %-30s %d bookmarks\n", s.FolderName, len(s.Bookmarks))
	}
}

func categorizeStartAction(c *cli.Context, e *env) error {
	res, err := e.coordinator.StartCategorization(c.Context, c.String("folder"))
	if err != nil {
		return err
	}
	if !res.Started {
		fmt.Printf("Not started: %s\n", res.Message)
		return nil
	}
	fmt.Printf("Categorizing %d bookmarks\n", res.Total)

	follow(e, func() (string, error) {
		st, err := e.coordinator.CategorizationStatus()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Categorization %s/%s: batch %d/%d, %d folders, %d/%d copied",
			st.Status, st.Phase, st.CurrentBatch, st.TotalBatches, st.CategoriesCreated, st.BookmarksCopied, st.TotalToCopy), nil
	}, e.coordinator.CancelCategorization)

	st, err := e.coordinator.CategorizationStatus()
	if err != nil {
		return err
	}
	logrus.Info("Final stats: " + e.tracker.LogProgress())
	printCategorizationState(st)
	return nil
}

func categorizeStatusAction(c *cli.Context, e *env) error {
	st, err := e.coordinator.CategorizationStatus()
	if err != nil {
		return err
	}
	printCategorizationState(st)
	return nil
}

func categorizeCancelAction(c *cli.Context, e *env) error {
	ok, err := e.coordinator.CancelCategorization()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No categorization running")
		return nil
	}
	fmt.Println("Categorization cancelled")
	return nil
}

func categorizeClearAction(c *cli.Context, e *env) error {
	if err := e.coordinator.ClearCategorization(); err != nil {
		return err
	}
	fmt.Println("Categorization state cleared")
	return nil
}

func categorizeRecoverAction(c *cli.Context, e *env) error {
	ok, err := e.coordinator.RecoverCategorization()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No abandoned categorization to recover")
		return nil
	}
	fmt.Println("Categorization closed as interrupted")
	return nil
}

func renamesAction(c *cli.Context, e *env) error {
	all, err := e.store.ListAll(c.Context)
	if err != nil {
		return err
	}
	renames, err := e.ai.SuggestRenames(c.Context, all)
	if errors.Is(err, ai.ErrNoAPIKey) {
		return errors.New("no API key: run 'sift settings set claudeApiKey=...' or set ANTHROPIC_API_KEY")
	}
	if err != nil {
		return err
	}
	if len(renames) == 0 {
		fmt.Println("No rename suggestions")
		return nil
	}

	for _, r := range renames {
		fmt.Printf("  %-40s -> %s\n", truncate(r.Bookmark.Title, 40), r.SuggestedTitle)
	}
	if !c.Bool("apply") {
		return nil
	}

	applied := 0
	for _, r := range renames {
		if err := e.store.UpdateTitle(c.Context, r.Bookmark.ID, r.SuggestedTitle); err != nil {
			logrus.Warnf("Failed to rename %s: %v", r.Bookmark.ID, err)
			continue
		}
		applied++
	}
	fmt.Printf("Renamed %d bookmarks\n", applied)
	return nil
}
