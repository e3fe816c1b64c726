// Package report renders semantic events and rollover summaries into the
// human-readable text handed to the notifier.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opsdesk/snmpmon/models"
)

// GB formats a byte count as gigabytes with two decimals.
func GB(byteCount uint64) string {
	return fmt.Sprintf("%.2f GB", float64(byteCount)/(1024*1024*1024))
}

// Transitions renders the interface up/down events of one pass into a single
// batched message. Returns "" when events contains no interface transitions.
func Transitions(events []models.SemanticEvent, at time.Time) string {
	var lines []string
	for _, ev := range events {
		switch ev.Kind {
		case models.EventInterfaceDown:
			lines = append(lines, fmt.Sprintf("%s - %s\nStatus: DOWN", ev.Device, ev.IfLabel))
		case models.EventInterfaceUp:
			lines = append(lines, fmt.Sprintf("%s - %s\nStatus: UP", ev.Device, ev.IfLabel))
		}
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Interface status change\n%s\n\n", at.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Join(lines, "\n\n"))
	return b.String()
}

// Breach renders one threshold-breach event.
func Breach(ev models.SemanticEvent) string {
	metric := strings.ToUpper(ev.Metric)
	return fmt.Sprintf("%s %s usage high: %.1f%% (threshold: %.1f%%)",
		ev.Device, metric, ev.Value, ev.Threshold)
}

// Monthly renders a finalized monthly record as a report message.
func Monthly(rec models.MonthlyRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monthly report - %s (%s)\n\n", rec.Device, rec.Month)

	if rec.Days == 0 {
		b.WriteString("No daily summary data for this month.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Avg CPU: %.1f%% (peak %.1f%%)\n", rec.AvgCPU, rec.PeakCPU)
	fmt.Fprintf(&b, "Avg RAM: %.1f%% (peak %.1f%%)\n\n", rec.AvgRAM, rec.PeakRAM)
	b.WriteString("Interface summary:\n")

	labels := make([]string, 0, len(rec.Interfaces))
	for label := range rec.Interfaces {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		ifc := rec.Interfaces[label]
		fmt.Fprintf(&b, "%s\n", label)
		fmt.Fprintf(&b, "  UP events: %d\n", ifc.UpEvents)
		fmt.Fprintf(&b, "  DOWN events: %d\n", ifc.DownEvents)
		fmt.Fprintf(&b, "  Total in: %s\n", GB(ifc.TotalInBytes))
		fmt.Fprintf(&b, "  Total out: %s\n", GB(ifc.TotalOutBytes))
		fmt.Fprintf(&b, "  End-of-month status: %s\n\n", ifc.LastKnownStatus)
	}
	return b.String()
}
