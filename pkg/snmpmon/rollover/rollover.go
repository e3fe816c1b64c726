// Package rollover finalizes the daily accumulator at calendar-day boundaries
// and folds a completed month's daily records into monthly summaries.
//
// Monthly rollover ordering is deliberate: records are written, reports
// notified, and the month archived before the script-state checkpoint is
// advanced. A crash anywhere before the checkpoint causes the rollover to be
// retried on the next pass rather than skipped; devices whose month directory
// was already archived contribute nothing on the retry.
package rollover

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opsdesk/snmpmon/format/report"
	"github.com/opsdesk/snmpmon/models"
	"github.com/opsdesk/snmpmon/notify"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/accumulate"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reconcile"
)

// Store is the subset of the file store consumed by the engine. An interface
// so tests can run the rollover logic without a filesystem.
type Store interface {
	AppendDailyRecord(models.DailyRecord) error
	ReadDailyRecords(device, month string) ([]models.DailyRecord, error)
	SaveMonthlyRecord(models.MonthlyRecord) error
	ArchiveMonth(device, month string) error
	SaveScriptState(models.ScriptState) error
}

// Engine performs day and month rollovers.
type Engine struct {
	store      Store
	notifier   notify.Notifier
	recipients []string
	logger     *slog.Logger
}

// New creates an Engine. notifier may be nil when reports are not delivered
// anywhere.
func New(store Store, notifier notify.Notifier, recipients []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Engine{
		store:      store,
		notifier:   notifier,
		recipients: recipients,
		logger:     logger,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Day rollover
// ─────────────────────────────────────────────────────────────────────────────

// RollDay finalizes acc into one immutable DailyRecord per device, appends
// each to durable storage, and returns a fresh accumulator for newDate.
//
// The returned accumulator is always fresh, even on a persist error: the
// alternative (carrying yesterday's totals into today) would double-count on
// a later successful flush. The error is surfaced loudly instead.
func (e *Engine) RollDay(acc *accumulate.Daily, newDate string) (*accumulate.Daily, error) {
	records := acc.Finalize()

	var errs []error
	for _, rec := range records {
		if err := e.store.AppendDailyRecord(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		e.logger.Info("rollover: daily record written",
			"device", rec.Device,
			"date", rec.Date,
			"samples", rec.Samples,
		)
	}

	e.logger.Info("rollover: day boundary",
		"closed_date", acc.Date,
		"new_date", newDate,
		"devices", len(records),
		"errors", len(errs),
	)
	return accumulate.New(newDate), errors.Join(errs...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Month rollover
// ─────────────────────────────────────────────────────────────────────────────

// PrevMonth returns the YYYY-MM of the calendar month preceding now.
func PrevMonth(now time.Time) string {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return firstOfMonth.AddDate(0, 0, -1).Format("2006-01")
}

// RollMonth folds the previous month's daily records into per-device monthly
// records, notifies each as a report, archives the month, and advances the
// checkpoint — in that order. The input state is returned unchanged when any
// device fails, so the whole rollover is retried on the next pass.
func (e *Engine) RollMonth(ctx context.Context, devices []models.DeviceDescriptor, state models.ScriptState, now time.Time) (models.ScriptState, error) {
	prev := PrevMonth(now)
	if state.LastReportedMonth == prev {
		return state, nil
	}

	e.logger.Info("rollover: month boundary",
		"month", prev,
		"last_reported", state.LastReportedMonth,
		"devices", len(devices),
	)

	var errs []error
	for _, dev := range devices {
		if err := e.rollDeviceMonth(ctx, dev.Name, prev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return state, errors.Join(errs...)
	}

	updated := state
	updated.LastReportedMonth = prev
	if err := e.store.SaveScriptState(updated); err != nil {
		// Checkpoint not durable: report the old state so the rollover is
		// retried (record/archive steps tolerate the repeat).
		return state, err
	}
	return updated, nil
}

// rollDeviceMonth processes one device. A device with no daily records for
// the month (never reported, or already archived by an earlier attempt) is
// skipped silently.
func (e *Engine) rollDeviceMonth(ctx context.Context, device, month string) error {
	records, err := e.store.ReadDailyRecords(device, month)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		e.logger.Debug("rollover: no daily records for month", "device", device, "month", month)
		return nil
	}

	monthly := FoldMonthly(device, month, records)
	if err := e.store.SaveMonthlyRecord(monthly); err != nil {
		return err
	}

	// Notification failure never blocks the rollover.
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, report.Monthly(monthly), e.recipients); err != nil {
			e.logger.Error("rollover: monthly report notification failed",
				"device", device,
				"month", month,
				"error", err.Error(),
			)
		}
	}

	if err := e.store.ArchiveMonth(device, month); err != nil {
		return err
	}

	e.logger.Info("rollover: monthly record finalized",
		"device", device,
		"month", month,
		"days", monthly.Days,
		"flaps", monthly.Flaps,
	)
	return nil
}

// FoldMonthly aggregates a month of daily records into one MonthlyRecord.
// Totals are exact sums over every record; averages are means of the daily
// averages; peaks are maxima of the daily maxima.
func FoldMonthly(device, month string, records []models.DailyRecord) models.MonthlyRecord {
	rec := models.MonthlyRecord{
		Device:     device,
		Month:      month,
		Days:       len(records),
		Interfaces: make(map[string]models.InterfaceMonthly),
	}

	var cpuSum, ramSum float64
	for _, day := range records {
		cpuSum += day.AvgCPU
		ramSum += day.AvgRAM
		if day.MaxCPU > rec.PeakCPU {
			rec.PeakCPU = day.MaxCPU
		}
		if day.MaxRAM > rec.PeakRAM {
			rec.PeakRAM = day.MaxRAM
		}

		for label, ifc := range day.Interfaces {
			total := rec.Interfaces[label]
			total.TotalInBytes += ifc.TotalInBytes
			total.TotalOutBytes += ifc.TotalOutBytes
			total.UpEvents += ifc.UpEvents
			total.DownEvents += ifc.DownEvents
			if ifc.FinalStatus != "" && ifc.FinalStatus != reconcile.StatusUnknown {
				total.LastKnownStatus = ifc.FinalStatus
			} else if total.LastKnownStatus == "" {
				total.LastKnownStatus = reconcile.StatusUnknown
			}
			rec.Interfaces[label] = total
			rec.Flaps += ifc.DownEvents
		}
	}
	if len(records) > 0 {
		rec.AvgCPU = cpuSum / float64(len(records))
		rec.AvgRAM = ramSum / float64(len(records))
	}
	return rec
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
