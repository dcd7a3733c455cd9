package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/ai"
	"github.com/alvmarrod/bookmark-sift/internal/config"
	"github.com/alvmarrod/bookmark-sift/internal/history"
	"github.com/alvmarrod/bookmark-sift/internal/linkcheck"
	"github.com/alvmarrod/bookmark-sift/internal/metrics"
	"github.com/alvmarrod/bookmark-sift/internal/notify"
	"github.com/alvmarrod/bookmark-sift/internal/settings"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/alvmarrod/bookmark-sift/internal/tasks"
	"github.com/alvmarrod/bookmark-sift/internal/version"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// A missing .env is fine, the key may come from settings
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "sift",
		Usage:   "keep a bookmark collection healthy: duplicates, dead links, stale entries, categories",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.json", Usage: "configuration file (JSON or YAML)"},
			&cli.StringFlag{Name: "db", Usage: "bookmark database, overrides db_path"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: commands(),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// env is everything a command needs, opened from the global flags
type env struct {
	cfg         *config.Config
	store       *storage.Storage
	settings    *settings.Service
	history     history.Lookup
	tracker     *metrics.Tracker
	checker     *linkcheck.Checker
	ai          *ai.Client
	coordinator *tasks.Coordinator

	closers []func() error
}

func open(c *cli.Context) (*env, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if db := c.String("db"); db != "" {
		cfg.DBPath = db
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	if c.Bool("verbose") {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logrus.Debugf("Database initialized: %s", cfg.DBPath)

	e := &env{
		cfg:      cfg,
		store:    store,
		settings: settings.NewService(store),
		tracker:  metrics.NewTracker(),
		closers:  []func() error{store.Close},
	}

	if cfg.HistoryPath != "" {
		h, err := history.OpenChromeHistory(cfg.HistoryPath)
		if err != nil {
			e.close("init_failed")
			return nil, err
		}
		e.history = h
		e.closers = append(e.closers, h.Close)
	} else {
		logrus.Debug("No history_path configured, every bookmark counts as never visited")
		e.history = history.NewMapLookup()
	}

	e.checker = linkcheck.NewChecker(cfg, e.tracker)
	e.ai = ai.NewClient(cfg, e.apiKey)
	e.coordinator = tasks.NewCoordinator(cfg, store, e.settings, e.checker, e.ai, notify.LogNotifier{}, e.tracker)
	return e, nil
}

// apiKey prefers the saved setting over ANTHROPIC_API_KEY
func (e *env) apiKey() (string, error) {
	key, err := e.settings.APIKey()
	if err != nil {
		return "", err
	}
	if key == "" {
		key = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	return key, nil
}

// close flushes notifications, writes the run metrics and releases every
// resource, newest first
func (e *env) close(reason string) {
	if !notify.Wait(5 * time.Second) {
		logrus.Warn("Notifications timeout (5s), continuing with shutdown")
	}
	if err := e.tracker.WriteToFile(e.cfg.MetricsPath, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Debugf("Metrics written to %s", e.cfg.MetricsPath)
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			logrus.Warnf("Close failed: %v", err)
		}
	}
}

// withEnv opens the environment around a command action
func withEnv(action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := open(c)
		if err != nil {
			return err
		}
		reason := "completed"
		defer func() { e.close(reason) }()

		if err := action(c, e); err != nil {
			reason = "error"
			return err
		}
		return nil
	}
}
