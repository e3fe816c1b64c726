// Package app wires the monitor's components together and manages their
// lifecycle.
//
// Poll path:
//
//	Dispatcher → (bounded fan-out) SNMPReader → Reconciler → Accumulator
//	           → (boundary-triggered) Rollover → Notifier
//
// The dispatcher is the single writer of all persisted state; the store's
// atomic-replace writes are what independent readers rely on.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsdesk/snmpmon/notify"
	"github.com/opsdesk/snmpmon/notify/telegram"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/config"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/delta"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/dispatch"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reader"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reconcile"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/rollover"
	storefile "github.com/opsdesk/snmpmon/store/file"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for the monitor application.
// Zero-value fields fall back to documented defaults.
type Config struct {
	// ConfigPath is the YAML configuration file.
	// Use config.PathFromEnv() to populate from the environment.
	ConfigPath string

	// IntervalOverride, when positive, overrides the configured poll
	// interval (used by the -interval flag).
	IntervalOverride time.Duration

	// PoolOptions configures the SNMP connection pool.
	PoolOptions reader.PoolOptions
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// App orchestrates the monitor. Create one with New, start it with Start, and
// stop it with Stop (or cancel the context).
type App struct {
	cfg    Config
	logger *slog.Logger

	loaded *config.Loaded
	pool   *reader.ConnectionPool
	disp   *dispatch.Dispatcher

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs an App. It does not start anything — call Start for that.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &App{cfg: cfg, logger: logger}
}

// Start loads configuration, builds all components, and launches the polling
// loop. The caller must eventually call Stop to release resources.
func (a *App) Start(ctx context.Context) error {
	path := a.cfg.ConfigPath
	if path == "" {
		path = config.PathFromEnv()
	}

	a.logger.Info("app: loading configuration", "file", path)
	loaded, err := config.Load(path, a.logger)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}
	a.loaded = loaded

	store, err := storefile.New(storefile.Config{
		StatusDir: loaded.Monitor.StatusDir,
		LogsDir:   loaded.Monitor.LogsDir,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: open store: %w", err)
	}

	notifier := a.buildNotifier(loaded.Notify)

	deltas := delta.New(delta.Config{
		MaxRateBytesPerSec: loaded.Monitor.MaxRateBytesPerSec,
	}, a.logger)
	rec := reconcile.New(deltas, a.logger)
	roll := rollover.New(store, notifier, loaded.Notify.ChatIDs, a.logger)

	a.pool = reader.NewConnectionPool(a.cfg.PoolOptions, a.logger)
	rdr := reader.NewSNMPReader(a.pool, a.logger)

	interval := time.Duration(loaded.Monitor.IntervalSeconds) * time.Second
	if a.cfg.IntervalOverride > 0 {
		interval = a.cfg.IntervalOverride
	}

	a.disp = dispatch.New(dispatch.Config{
		Interval:     interval,
		MaxInFlight:  loaded.Monitor.MaxInFlight,
		FetchTimeout: time.Duration(loaded.Monitor.FetchTimeoutSeconds) * time.Second,
		Location:     loaded.Location,
		Recipients:   loaded.Notify.ChatIDs,
	}, loaded.Registry, rdr, rec, roll, store, notifier, a.logger)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.group, runCtx = errgroup.WithContext(runCtx)
	a.group.Go(func() error {
		return a.disp.Run(runCtx)
	})

	a.logger.Info("app: monitor running",
		"devices", len(loaded.Registry),
		"interval", interval.String(),
		"timezone", loaded.Location.String(),
	)
	return nil
}

// Stop shuts the polling loop down and releases resources. Safe to call once
// after a successful Start.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")

	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil {
			a.logger.Error("app: dispatcher exited with error", "error", err.Error())
		}
	}
	if a.pool != nil {
		_ = a.pool.Close()
	}

	a.logger.Info("app: shutdown complete")
}

// buildNotifier selects the Telegram notifier when a token is configured and
// falls back to log-only delivery otherwise.
func (a *App) buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	token := cfg.Token()
	if token == "" {
		a.logger.Warn("app: no bot token configured, notifications go to the log")
		return notify.LogNotifier{Logger: a.logger}
	}

	n, err := telegram.New(telegram.Config{
		Token:       token,
		Retries:     cfg.Retries,
		RetryDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
		MinInterval: time.Duration(cfg.MinIntervalSeconds) * time.Second,
	}, a.logger)
	if err != nil {
		a.logger.Error("app: telegram notifier unavailable, using log delivery",
			"error", err.Error())
		return notify.LogNotifier{Logger: a.logger}
	}
	a.logger.Info("app: telegram notifier enabled", "recipients", len(cfg.ChatIDs))
	return n
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
