// Package dispatch runs the polling loop. Every interval it fans one fetch
// per device out across a bounded worker set, waits for all results (success
// or timeout) so the pass is a consistent snapshot, then reconciles and
// accumulates sequentially. The dispatcher is the single writer of persisted
// device state and of the daily accumulator.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsdesk/snmpmon/format/report"
	"github.com/opsdesk/snmpmon/models"
	"github.com/opsdesk/snmpmon/notify"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/accumulate"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reader"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reconcile"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/rollover"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the polling loop.
type Config struct {
	// Interval between passes. Default 60s.
	Interval time.Duration

	// MaxInFlight bounds simultaneous device fetches within a pass.
	// Default 8.
	MaxInFlight int

	// FetchTimeout bounds each device's fetch independently. Default 20s.
	FetchTimeout time.Duration

	// Location is the fixed time zone used to derive calendar days and
	// months. Default time.Local.
	Location *time.Location

	// Recipients receive event notifications.
	Recipients []string

	// PersistFailureLimit is the number of consecutive failed state writes
	// after which a device's readings stop being folded into the accumulator
	// (halt rather than silently drop). Default 3.
	PersistFailureLimit int
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 8
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.PersistFailureLimit <= 0 {
		c.PersistFailureLimit = 3
	}
}

// Store is the subset of the file store the dispatcher needs.
type Store interface {
	LoadDeviceState(device string) (models.PersistedDeviceState, bool, error)
	SaveDeviceState(models.PersistedDeviceState) error
	LoadAccumulator() (*accumulate.Daily, bool, error)
	SaveAccumulator(*accumulate.Daily) error
	LoadScriptState() (models.ScriptState, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ─────────────────────────────────────────────────────────────────────────────

// Dispatcher owns the scheduling loop and all mutable monitor state.
type Dispatcher struct {
	cfg      Config
	devices  []models.DeviceDescriptor
	reader   reader.Reader
	rec      *reconcile.Reconciler
	roll     *rollover.Engine
	store    Store
	notifier notify.Notifier
	logger   *slog.Logger

	// Mutated only inside Run (single-writer discipline).
	states          map[string]models.PersistedDeviceState
	acc             *accumulate.Daily
	script          models.ScriptState
	persistFailures map[string]int
}

// New creates a Dispatcher. Run must be called to start polling.
func New(
	cfg Config,
	devices []models.DeviceDescriptor,
	rdr reader.Reader,
	rec *reconcile.Reconciler,
	roll *rollover.Engine,
	store Store,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Dispatcher {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger}
	}
	return &Dispatcher{
		cfg:             cfg,
		devices:         devices,
		reader:          rdr,
		rec:             rec,
		roll:            roll,
		store:           store,
		notifier:        notifier,
		logger:          logger,
		states:          make(map[string]models.PersistedDeviceState),
		persistFailures: make(map[string]int),
	}
}

// Run restores persisted state, executes one pass immediately, then polls on
// the configured interval until ctx is cancelled. A pass that overruns the
// interval causes the missed tick to be skipped, so at most one pass is ever
// in flight.
func (d *Dispatcher) Run(ctx context.Context) error {
	now := time.Now().In(d.cfg.Location)
	if err := d.restore(now); err != nil {
		return err
	}

	d.pass(ctx, now)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final snapshot so a clean shutdown loses nothing.
			d.saveAccumulator()
			return nil
		case <-ticker.C:
			d.pass(ctx, time.Now().In(d.cfg.Location))

			// Overrun policy: a tick that fired while the pass was running
			// is dropped rather than queued.
			select {
			case <-ticker.C:
				d.logger.Warn("dispatch: pass overran interval, skipping tick",
					"interval", d.cfg.Interval.String())
			default:
			}
		}
	}
}

// restore loads device states, the accumulator, and the rollover checkpoint.
// An accumulator persisted for an earlier day (crash across midnight) is
// finalized before a fresh one starts, so its cycles still reach a daily
// record exactly once.
func (d *Dispatcher) restore(now time.Time) error {
	script, err := d.store.LoadScriptState()
	if err != nil {
		return err
	}
	d.script = script

	date := now.Format("2006-01-02")
	acc, ok, err := d.store.LoadAccumulator()
	if err != nil {
		d.logger.Error("dispatch: accumulator unreadable, starting empty", "error", err.Error())
	}
	switch {
	case ok && acc.Date == date:
		d.logger.Info("dispatch: resuming daily accumulation", "date", date)
		d.acc = acc
	case ok && acc.Date != date:
		d.acc, err = d.roll.RollDay(acc, date)
		if err != nil {
			d.logger.Error("dispatch: finalizing stale accumulator failed", "error", err.Error())
		}
	default:
		d.acc = accumulate.New(date)
	}

	for _, dev := range d.devices {
		st, found, err := d.store.LoadDeviceState(dev.Name)
		if err != nil {
			d.logger.Error("dispatch: device state unreadable, starting empty",
				"device", dev.Name, "error", err.Error())
		}
		if !found || err != nil {
			st = models.NewDeviceState(dev.Name)
		}
		d.states[dev.Name] = st
	}

	d.logger.Info("dispatch: state restored",
		"devices", len(d.devices),
		"date", d.acc.Date,
		"last_reported_month", d.script.LastReportedMonth,
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// One pass
// ─────────────────────────────────────────────────────────────────────────────

type fetchResult struct {
	reading models.RawReading
	err     error
}

func (d *Dispatcher) pass(ctx context.Context, now time.Time) {
	started := time.Now()

	// Boundary checks happen before polling, as the first pass of the new
	// day/month is the one that triggers the rollover.
	d.rollBoundaries(ctx, now)

	results := d.fanOut(ctx)

	// Fan-in: all results are present; reconcile and accumulate sequentially.
	var transitions []models.SemanticEvent
	okCount, failCount := 0, 0

	for i, dev := range d.devices {
		res := results[i]
		prev := d.states[dev.Name]

		if res.err != nil {
			failCount++
			st := d.rec.RecordFailure(dev.Name, prev)
			d.states[dev.Name] = st
			d.saveState(dev.Name, st)

			var terr *reader.TransportError
			if errors.As(res.err, &terr) {
				d.logger.Warn("dispatch: device unreachable",
					"device", dev.Name,
					"reason", terr.Reason,
					"consecutive_failures", st.ConsecutiveFailures,
				)
			} else {
				d.logger.Warn("dispatch: fetch failed",
					"device", dev.Name, "error", res.err.Error())
			}
			continue
		}

		out := d.rec.Apply(dev, res.reading, prev)
		d.states[dev.Name] = out.State
		if out.Duplicate {
			continue
		}

		for _, ev := range out.Events {
			if ev.Kind == models.EventThresholdBreach {
				d.notify(ctx, report.Breach(ev))
			} else {
				transitions = append(transitions, ev)
			}
		}

		d.saveState(dev.Name, out.State)
		if d.persistFailures[dev.Name] >= d.cfg.PersistFailureLimit {
			d.logger.Error("dispatch: accumulation halted, device state not durable",
				"device", dev.Name,
				"consecutive_persist_failures", d.persistFailures[dev.Name],
			)
			continue
		}

		d.acc.Fold(out)
		okCount++
	}

	if msg := report.Transitions(transitions, now); msg != "" {
		d.notify(ctx, msg)
	}

	d.saveAccumulator()

	d.logger.Info("dispatch: pass complete",
		"ok", okCount,
		"failed", failCount,
		"events", len(transitions),
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// rollBoundaries runs the day then month rollover checks for this pass. The
// day must close first: on the first pass of a new month the accumulator still
// holds the closing day of the old month, and its DailyRecord has to reach the
// month file before the month is folded and archived.
func (d *Dispatcher) rollBoundaries(ctx context.Context, now time.Time) {
	date := now.Format("2006-01-02")
	if d.acc.Date != date {
		acc, err := d.roll.RollDay(d.acc, date)
		if err != nil {
			d.logger.Error("dispatch: day rollover persist error", "error", err.Error())
		}
		d.acc = acc
	}

	script, err := d.roll.RollMonth(ctx, d.devices, d.script, now)
	if err != nil {
		d.logger.Error("dispatch: monthly rollover incomplete, will retry",
			"error", err.Error())
	}
	d.script = script
}

// fanOut polls every device concurrently, bounded by MaxInFlight, each with
// an independent timeout. It always returns one result slot per device.
func (d *Dispatcher) fanOut(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(d.devices))

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.MaxInFlight)
	for i, dev := range d.devices {
		i, dev := i, dev
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
			defer cancel()

			reading, err := d.reader.Fetch(fctx, dev)
			results[i] = fetchResult{reading: reading, err: err}
			// Failures are isolated per device; never cancel the group.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ─────────────────────────────────────────────────────────────────────────────
// Persistence helpers
// ─────────────────────────────────────────────────────────────────────────────

// saveState persists one device state and tracks consecutive failures.
func (d *Dispatcher) saveState(device string, st models.PersistedDeviceState) {
	if err := d.store.SaveDeviceState(st); err != nil {
		d.persistFailures[device]++
		d.logger.Error("dispatch: device state persist failed",
			"device", device,
			"consecutive_persist_failures", d.persistFailures[device],
			"error", err.Error(),
		)
		return
	}
	delete(d.persistFailures, device)
}

func (d *Dispatcher) saveAccumulator() {
	if err := d.store.SaveAccumulator(d.acc); err != nil {
		d.logger.Error("dispatch: accumulator persist failed", "error", err.Error())
	}
}

func (d *Dispatcher) notify(ctx context.Context, message string) {
	if err := d.notifier.Notify(ctx, message, d.cfg.Recipients); err != nil {
		d.logger.Error("dispatch: notification failed", "error", err.Error())
	}
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
