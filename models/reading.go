// Package models defines the core data structures shared across all layers of
// the monitor. These types are the canonical in-memory form of all collected
// data; every other package depends on this package and nothing here depends
// on any other internal package.
package models

import "time"

// OperStatus is the SNMP ifOperStatus value. Only up(1) and down(2) are
// meaningful to the reconciler; everything else is treated as down.
type OperStatus int

const (
	OperUp   OperStatus = 1
	OperDown OperStatus = 2
)

// InterfaceReading is one interface's slice of a RawReading.
type InterfaceReading struct {
	Index      int        `json:"index"`
	OperStatus OperStatus `json:"oper_status"`
	InOctets   uint64     `json:"in_octets"`
	OutOctets  uint64     `json:"out_octets"`

	// Valid is false when any of the interface's OIDs failed to answer.
	// Invalid readings contribute zero deltas and leave the interface state
	// machine untouched.
	Valid bool `json:"valid"`
}

// RawReading is one snapshot of a device, produced by the metric reader once
// per polling cycle. It is transient and owned by the cycle that produced it.
//
// Partial failure is acceptable: each section carries its own validity flag so
// a device that answers interface OIDs but not CPU still contributes traffic
// data for the cycle.
type RawReading struct {
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu_percent"`
	CPUValid   bool    `json:"cpu_valid"`

	// RAMPercent is used fraction of total memory in percent.
	RAMPercent float64 `json:"ram_percent"`
	RAMValid   bool    `json:"ram_valid"`

	Interfaces []InterfaceReading `json:"interfaces"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Persisted per-device state
// ─────────────────────────────────────────────────────────────────────────────

// IfFSM is the explicit per-interface debounce state machine.
type IfFSM string

const (
	// FSMUp: the interface reported up on its most recent valid observation.
	FSMUp IfFSM = "up"

	// FSMDownPending: one down observation seen; a second consecutive down
	// confirms the outage, an up observation clears it silently.
	FSMDownPending IfFSM = "down_pending"

	// FSMDown: confirmed down (two consecutive down observations).
	FSMDown IfFSM = "down"
)

// InterfaceState is the persisted per-interface portion of device state.
type InterfaceState struct {
	FSM IfFSM `json:"fsm"`

	// ConsecutiveDown counts down observations since the last up.
	// Invariant: reset to 0 the instant the interface reports up.
	ConsecutiveDown int `json:"consecutive_down"`

	// LastKnownUp records whether the last valid observation was up.
	LastKnownUp bool `json:"last_known_up"`

	// InOctets / OutOctets are the raw counter values from the last valid
	// observation, used for delta computation on the next cycle.
	InOctets    uint64 `json:"in_octets"`
	OutOctets   uint64 `json:"out_octets"`
	HasCounters bool   `json:"has_counters"`
}

// PersistedDeviceState is the last observed state of one device. It is read at
// startup, mutated after every cycle by the dispatcher (single writer), and
// survives restarts via the store.
type PersistedDeviceState struct {
	Device        string    `json:"device"`
	LastTimestamp time.Time `json:"last_timestamp"`

	LastCPUPercent float64 `json:"last_cpu_percent"`
	LastRAMPercent float64 `json:"last_ram_percent"`

	// Interfaces is keyed by ifIndex.
	Interfaces map[int]InterfaceState `json:"interfaces"`

	// ConsecutiveFailures counts cycles in which the device was unreachable.
	// Operational visibility only; it never drives interface events.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// NewDeviceState returns an empty state for the named device.
func NewDeviceState(device string) PersistedDeviceState {
	return PersistedDeviceState{
		Device:     device,
		Interfaces: make(map[int]InterfaceState),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Semantic events
// ─────────────────────────────────────────────────────────────────────────────

// EventKind tags a SemanticEvent.
type EventKind string

const (
	EventInterfaceDown   EventKind = "interface_down"
	EventInterfaceUp     EventKind = "interface_up"
	EventThresholdBreach EventKind = "threshold_breach"
)

// SemanticEvent is a state transition detected by the reconciler. Events are
// consumed by the notifier and the daily accumulator; they are never persisted
// standalone.
type SemanticEvent struct {
	Kind      EventKind `json:"kind"`
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`

	// Interface events.
	IfIndex int    `json:"if_index,omitempty"`
	IfLabel string `json:"if_label,omitempty"`

	// Threshold breach events.
	Metric    string  `json:"metric,omitempty"` // "cpu" or "ram"
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}
