// Command snmpmon is the SNMP device monitor binary.
//
// It loads YAML configuration (path from -config or SNMPMON_CONFIG_PATH),
// builds the polling pipeline, and runs until interrupted (SIGINT / SIGTERM).
//
// Usage:
//
//	snmpmon [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsdesk/snmpmon/pkg/snmpmon/app"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reader"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snmpmon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Flags ────────────────────────────────────────────────────────────
	var (
		logLevel string
		logFmt   string
		cfgPath  string
		interval time.Duration

		// Pool
		poolMaxIdle   int
		poolMaxPerDev int
		poolIdleSec   int
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "text", "Log format: json, text")
	flag.StringVar(&cfgPath, "config", "", "Override SNMPMON_CONFIG_PATH")
	flag.DurationVar(&interval, "interval", 0, "Override the configured poll interval (0 = use config)")
	flag.IntVar(&poolMaxIdle, "snmp.pool.max.idle", 1, "Max idle connections per device")
	flag.IntVar(&poolMaxPerDev, "snmp.pool.max.concurrent", 2, "Max concurrent connections per device")
	flag.IntVar(&poolIdleSec, "snmp.pool.idle.timeout", 30, "Idle connection timeout in seconds")

	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	// ── Build App ────────────────────────────────────────────────────────
	cfg := app.Config{
		ConfigPath:       cfgPath,
		IntervalOverride: interval,
		PoolOptions: reader.PoolOptions{
			MaxIdlePerDevice:       poolMaxIdle,
			MaxConcurrentPerDevice: poolMaxPerDev,
			IdleTimeout:            time.Duration(poolIdleSec) * time.Second,
		},
	}

	application := app.New(cfg, logger)

	// ── Start ────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("snmpmon: running — press Ctrl-C to stop")

	// Block until signal.
	<-ctx.Done()
	logger.Info("snmpmon: received shutdown signal")

	application.Stop()
	return nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}
