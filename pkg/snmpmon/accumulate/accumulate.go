// Package accumulate maintains the running per-day statistics that each
// polling cycle folds into. The accumulator is owned exclusively by the
// dispatch loop (single writer); snapshot-and-reset at day boundaries is a
// plain sequential step in that loop, which is what makes it atomic with
// respect to accumulation.
package accumulate

import (
	"sort"

	"github.com/opsdesk/snmpmon/models"
	"github.com/opsdesk/snmpmon/pkg/snmpmon/reconcile"
)

// MetricStats tracks running max / sum / sample-count for one gauge metric.
type MetricStats struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
	Max   float64 `json:"max"`
}

// Add folds one sample.
func (m *MetricStats) Add(v float64) {
	m.Sum += v
	m.Count++
	if v > m.Max {
		m.Max = v
	}
}

// Avg returns the running average, or 0 with no samples.
func (m MetricStats) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// IfStats is the running per-interface total for the current day.
type IfStats struct {
	TotalIn    uint64 `json:"total_in"`
	TotalOut   uint64 `json:"total_out"`
	UpEvents   int    `json:"up_events"`
	DownEvents int    `json:"down_events"`

	// CurrentStatus is the most recently observed status.
	CurrentStatus string `json:"current_status"`
}

// DeviceDay is one device's accumulator for the current day.
type DeviceDay struct {
	CPU MetricStats `json:"cpu"`
	RAM MetricStats `json:"ram"`

	// Interfaces is keyed by interface label.
	Interfaces map[string]*IfStats `json:"interfaces"`
}

// Daily is the whole-fleet accumulator for one calendar day. It is not safe
// for concurrent use; only the dispatch loop may touch it.
type Daily struct {
	// Date is the calendar day this accumulator belongs to (YYYY-MM-DD).
	Date string `json:"date"`

	// Devices is keyed by device name.
	Devices map[string]*DeviceDay `json:"devices"`
}

// New returns an empty accumulator for the given date.
func New(date string) *Daily {
	return &Daily{
		Date:    date,
		Devices: make(map[string]*DeviceDay),
	}
}

// device returns (creating if needed) the per-device accumulator.
func (d *Daily) device(name string) *DeviceDay {
	dd, ok := d.Devices[name]
	if !ok {
		dd = &DeviceDay{Interfaces: make(map[string]*IfStats)}
		d.Devices[name] = dd
	}
	return dd
}

// Fold merges one reconciliation outcome into the running day. Duplicate
// outcomes must be filtered by the caller before folding.
func (d *Daily) Fold(out reconcile.Outcome) {
	dd := d.device(out.Device)

	if out.CPUValid {
		dd.CPU.Add(out.CPUPercent)
	}
	if out.RAMValid {
		dd.RAM.Add(out.RAMPercent)
	}

	for _, ifo := range out.Interfaces {
		st, ok := dd.Interfaces[ifo.Label]
		if !ok {
			st = &IfStats{CurrentStatus: reconcile.StatusUnknown}
			dd.Interfaces[ifo.Label] = st
		}
		st.TotalIn += ifo.DeltaIn
		st.TotalOut += ifo.DeltaOut
		st.UpEvents += ifo.UpEvent
		st.DownEvents += ifo.DownEvent
		st.CurrentStatus = ifo.Status
	}
}

// Finalize snapshots the accumulator into one immutable DailyRecord per
// device, sorted by device name for deterministic output.
func (d *Daily) Finalize() []models.DailyRecord {
	names := make([]string, 0, len(d.Devices))
	for name := range d.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]models.DailyRecord, 0, len(names))
	for _, name := range names {
		dd := d.Devices[name]
		rec := models.DailyRecord{
			Device:     name,
			Date:       d.Date,
			AvgCPU:     dd.CPU.Avg(),
			MaxCPU:     dd.CPU.Max,
			AvgRAM:     dd.RAM.Avg(),
			MaxRAM:     dd.RAM.Max,
			Samples:    dd.CPU.Count,
			Interfaces: make(map[string]models.InterfaceDaily, len(dd.Interfaces)),
		}
		for label, st := range dd.Interfaces {
			rec.Interfaces[label] = models.InterfaceDaily{
				TotalInBytes:  st.TotalIn,
				TotalOutBytes: st.TotalOut,
				UpEvents:      st.UpEvents,
				DownEvents:    st.DownEvents,
				FinalStatus:   st.CurrentStatus,
			}
		}
		records = append(records, rec)
	}
	return records
}
