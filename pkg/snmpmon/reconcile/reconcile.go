// Package reconcile is the central state machine of the monitor. It diffs a
// new raw reading against the last persisted device state, applies the
// per-interface debounce rules, and emits semantic events plus an updated
// state. It performs no I/O: persistence and notification are the caller's
// concern, which keeps the state machine testable without a filesystem.
package reconcile

import (
	"log/slog"
	"time"

	"github.com/opsdesk/snmpmon/models"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/delta"
)

// Status strings recorded per interface for accumulation and reports.
const (
	StatusUp      = "UP"
	StatusDown    = "DOWN"
	StatusUnknown = "UNKNOWN"
)

// IfOutcome is one interface's contribution to the daily accumulator for this
// cycle.
type IfOutcome struct {
	Label     string
	DeltaIn   uint64
	DeltaOut  uint64
	UpEvent   int
	DownEvent int
	Status    string
}

// Outcome is the result of reconciling one reading.
type Outcome struct {
	Device    string
	Timestamp time.Time

	// Events are the semantic transitions detected this cycle.
	Events []models.SemanticEvent

	// State is the updated persisted state. The input state is never mutated.
	State models.PersistedDeviceState

	// Interfaces carries per-interface deltas and event counts for folding
	// into the daily accumulator.
	Interfaces []IfOutcome

	CPUPercent float64
	CPUValid   bool
	RAMPercent float64
	RAMValid   bool

	// Duplicate is true when the reading's timestamp is not after the state's
	// last timestamp. Duplicate readings produce no events and must not be
	// folded into the accumulator.
	Duplicate bool
}

// ─────────────────────────────────────────────────────────────────────────────
// Reconciler
// ─────────────────────────────────────────────────────────────────────────────

// Reconciler transforms (RawReading, PersistedDeviceState) pairs into
// (events, new state). Safe for concurrent use; all state flows through
// arguments and return values.
type Reconciler struct {
	deltas *delta.Engine
	logger *slog.Logger
}

// New creates a Reconciler using the given delta engine.
func New(deltas *delta.Engine, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Reconciler{deltas: deltas, logger: logger}
}

// Apply reconciles one reading against the previous state.
//
// Per-interface transitions (two-strike debounce):
//
//	Up          → DownPending   on first down observation, no event
//	DownPending → Down          on second consecutive down, emit InterfaceDown
//	DownPending → Up            on up (transient blip), no event
//	Down        → Up            on up, emit InterfaceUp
//
// CPU and RAM samples strictly above the device threshold emit a breach every
// qualifying cycle; rate limiting is a notifier concern.
func (r *Reconciler) Apply(dev models.DeviceDescriptor, reading models.RawReading, prev models.PersistedDeviceState) Outcome {
	out := Outcome{
		Device:    dev.Name,
		Timestamp: reading.Timestamp,
	}

	// Duplicate / stale delivery guard.
	if !prev.LastTimestamp.IsZero() && !reading.Timestamp.After(prev.LastTimestamp) {
		r.logger.Warn("reconcile: stale or duplicate reading rejected",
			"device", dev.Name,
			"reading_ts", reading.Timestamp,
			"state_ts", prev.LastTimestamp,
		)
		out.Duplicate = true
		out.State = cloneState(dev.Name, prev)
		return out
	}

	elapsed := time.Duration(0)
	if !prev.LastTimestamp.IsZero() {
		elapsed = reading.Timestamp.Sub(prev.LastTimestamp)
	}

	next := cloneState(dev.Name, prev)
	next.LastTimestamp = reading.Timestamp
	next.ConsecutiveFailures = 0

	// ── CPU / RAM thresholds (no debounce) ──────────────────────────────
	if reading.CPUValid {
		next.LastCPUPercent = reading.CPUPercent
		out.CPUPercent = reading.CPUPercent
		out.CPUValid = true
		if reading.CPUPercent > dev.CPUThreshold {
			out.Events = append(out.Events, models.SemanticEvent{
				Kind:      models.EventThresholdBreach,
				Device:    dev.Name,
				Timestamp: reading.Timestamp,
				Metric:    "cpu",
				Value:     reading.CPUPercent,
				Threshold: dev.CPUThreshold,
			})
		}
	}
	if reading.RAMValid {
		next.LastRAMPercent = reading.RAMPercent
		out.RAMPercent = reading.RAMPercent
		out.RAMValid = true
		if reading.RAMPercent > dev.RAMThreshold {
			out.Events = append(out.Events, models.SemanticEvent{
				Kind:      models.EventThresholdBreach,
				Device:    dev.Name,
				Timestamp: reading.Timestamp,
				Metric:    "ram",
				Value:     reading.RAMPercent,
				Threshold: dev.RAMThreshold,
			})
		}
	}

	// ── Interfaces ──────────────────────────────────────────────────────
	for _, ir := range reading.Interfaces {
		spec, ok := dev.Interface(ir.Index)
		if !ok {
			continue
		}

		if !ir.Valid {
			// Partial failure: zero contribution, state untouched.
			out.Interfaces = append(out.Interfaces, IfOutcome{
				Label:  spec.Label,
				Status: StatusUnknown,
			})
			continue
		}

		st := next.Interfaces[ir.Index]
		ifo := IfOutcome{Label: spec.Label}

		if ir.OperStatus == models.OperUp {
			ifo.Status = StatusUp
			if st.FSM == models.FSMDown {
				ifo.UpEvent = 1
				out.Events = append(out.Events, models.SemanticEvent{
					Kind:      models.EventInterfaceUp,
					Device:    dev.Name,
					Timestamp: reading.Timestamp,
					IfIndex:   ir.Index,
					IfLabel:   spec.Label,
				})
			}
			st.FSM = models.FSMUp
			st.ConsecutiveDown = 0
			st.LastKnownUp = true
		} else {
			ifo.Status = StatusDown
			st.ConsecutiveDown++
			st.LastKnownUp = false
			switch st.FSM {
			case models.FSMDownPending:
				// Second consecutive strike confirms the outage.
				st.FSM = models.FSMDown
				ifo.DownEvent = 1
				out.Events = append(out.Events, models.SemanticEvent{
					Kind:      models.EventInterfaceDown,
					Device:    dev.Name,
					Timestamp: reading.Timestamp,
					IfIndex:   ir.Index,
					IfLabel:   spec.Label,
				})
			case models.FSMDown:
				// Already confirmed; stay down silently.
			default:
				// FSMUp, or first-ever observation of this interface.
				st.FSM = models.FSMDownPending
				st.ConsecutiveDown = 1
			}
		}

		// Counter deltas (wrap-safe). First-ever reading seeds the counters
		// and contributes a zero delta.
		if st.HasCounters {
			width := delta.Width32
			if spec.Counter64 {
				width = delta.Width64
			}
			in := r.deltas.Compute(dev.Name, spec.Label, st.InOctets, ir.InOctets, width, elapsed)
			egress := r.deltas.Compute(dev.Name, spec.Label, st.OutOctets, ir.OutOctets, width, elapsed)
			ifo.DeltaIn = in.Delta
			ifo.DeltaOut = egress.Delta
		}
		st.InOctets = ir.InOctets
		st.OutOctets = ir.OutOctets
		st.HasCounters = true

		next.Interfaces[ir.Index] = st
		out.Interfaces = append(out.Interfaces, ifo)
	}

	out.State = next
	return out
}

// RecordFailure returns a copy of prev with only the failure counter bumped.
// An unreachable device must not be mistaken for one whose interfaces are all
// down, so every other field is left untouched.
func (r *Reconciler) RecordFailure(device string, prev models.PersistedDeviceState) models.PersistedDeviceState {
	next := cloneState(device, prev)
	next.ConsecutiveFailures++
	return next
}

// cloneState deep-copies prev so Apply never aliases the caller's map.
func cloneState(device string, prev models.PersistedDeviceState) models.PersistedDeviceState {
	next := prev
	next.Device = device
	next.Interfaces = make(map[int]models.InterfaceState, len(prev.Interfaces))
	for k, v := range prev.Interfaces {
		next.Interfaces[k] = v
	}
	return next
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
