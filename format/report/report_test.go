package report

import (
	"strings"
	"testing"
	"time"

	"github.com/opsdesk/snmpmon/models"
)

func TestGB(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  string
	}{
		{0, "0.00 GB"},
		{1 << 30, "1.00 GB"},
		{5_368_709_120, "5.00 GB"},
		{1_610_612_736, "1.50 GB"},
	}
	for _, tc := range cases {
		if got := GB(tc.bytes); got != tc.want {
			t.Errorf("GB(%d) = %q, want %q", tc.bytes, got, tc.want)
		}
	}
}

func TestTransitionsBatchesInterfaceEvents(t *testing.T) {
	at := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	events := []models.SemanticEvent{
		{Kind: models.EventInterfaceDown, Device: "router-1", IfLabel: "wan"},
		{Kind: models.EventThresholdBreach, Device: "router-1", Metric: "cpu", Value: 99},
		{Kind: models.EventInterfaceUp, Device: "router-2", IfLabel: "lan"},
	}

	msg := Transitions(events, at)
	if !strings.Contains(msg, "2026-08-30 14:30:00") {
		t.Errorf("missing timestamp in %q", msg)
	}
	if !strings.Contains(msg, "router-1 - wan\nStatus: DOWN") {
		t.Errorf("missing down line in %q", msg)
	}
	if !strings.Contains(msg, "router-2 - lan\nStatus: UP") {
		t.Errorf("missing up line in %q", msg)
	}
	// Breaches are rendered separately, never in the transitions batch.
	if strings.Contains(msg, "cpu") || strings.Contains(msg, "99") {
		t.Errorf("threshold breach leaked into transitions message: %q", msg)
	}
}

func TestTransitionsEmptyWithoutInterfaceEvents(t *testing.T) {
	events := []models.SemanticEvent{
		{Kind: models.EventThresholdBreach, Device: "router-1", Metric: "ram"},
	}
	if msg := Transitions(events, time.Now()); msg != "" {
		t.Errorf("Transitions = %q, want empty", msg)
	}
	if msg := Transitions(nil, time.Now()); msg != "" {
		t.Errorf("Transitions(nil) = %q, want empty", msg)
	}
}

func TestBreach(t *testing.T) {
	msg := Breach(models.SemanticEvent{
		Kind: models.EventThresholdBreach, Device: "router-1",
		Metric: "cpu", Value: 91.5, Threshold: 85,
	})
	want := "router-1 CPU usage high: 91.5% (threshold: 85.0%)"
	if msg != want {
		t.Errorf("Breach = %q, want %q", msg, want)
	}
}

func TestMonthly(t *testing.T) {
	rec := models.MonthlyRecord{
		Device: "router-1", Month: "2026-07",
		AvgCPU: 45.2, PeakCPU: 92.1,
		AvgRAM: 60.5, PeakRAM: 88.0,
		Days: 31, Flaps: 3,
		Interfaces: map[string]models.InterfaceMonthly{
			"wan": {
				TotalInBytes: 5_368_709_120, TotalOutBytes: 1 << 30,
				UpEvents: 2, DownEvents: 3, LastKnownStatus: "UP",
			},
			"lan": {LastKnownStatus: "DOWN"},
		},
	}

	msg := Monthly(rec)
	for _, want := range []string{
		"Monthly report - router-1 (2026-07)",
		"Avg CPU: 45.2% (peak 92.1%)",
		"Avg RAM: 60.5% (peak 88.0%)",
		"Total in: 5.00 GB",
		"DOWN events: 3",
		"End-of-month status: UP",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}

	// Labels render in sorted order for stable output.
	if strings.Index(msg, "lan") > strings.Index(msg, "wan") {
		t.Errorf("interfaces not sorted:\n%s", msg)
	}
}

func TestMonthlyEmptyMonth(t *testing.T) {
	msg := Monthly(models.MonthlyRecord{Device: "router-1", Month: "2026-07"})
	if !strings.Contains(msg, "No daily summary data") {
		t.Errorf("empty month report = %q", msg)
	}
}
