package models

// InterfaceDaily is one interface's finalized totals for a calendar day.
type InterfaceDaily struct {
	TotalInBytes  uint64 `json:"total_in_bytes"`
	TotalOutBytes uint64 `json:"total_out_bytes"`
	UpEvents      int    `json:"up_events"`
	DownEvents    int    `json:"down_events"`

	// FinalStatus is the last observed status of the day: "UP", "DOWN" or
	// "UNKNOWN" when the interface never answered.
	FinalStatus string `json:"final_status"`
}

// DailyRecord is one finalized accumulator snapshot for one device and one
// calendar date. Records are immutable once written and form an append-only
// sequence per device per month.
type DailyRecord struct {
	Device string `json:"device"`

	// Date is the calendar day in YYYY-MM-DD form, in the monitor's zone.
	Date string `json:"date"`

	AvgCPU  float64 `json:"avg_cpu"`
	MaxCPU  float64 `json:"max_cpu"`
	AvgRAM  float64 `json:"avg_ram"`
	MaxRAM  float64 `json:"max_ram"`
	Samples int     `json:"samples"`

	// Interfaces is keyed by interface label.
	Interfaces map[string]InterfaceDaily `json:"interfaces"`
}

// InterfaceMonthly aggregates one interface across all daily records of a month.
type InterfaceMonthly struct {
	TotalInBytes    uint64 `json:"total_in_bytes"`
	TotalOutBytes   uint64 `json:"total_out_bytes"`
	UpEvents        int    `json:"up_events"`
	DownEvents      int    `json:"down_events"`
	LastKnownStatus string `json:"last_known_status"`
}

// MonthlyRecord aggregates all daily records of a calendar month for one
// device. It is created exactly once per device per month; the contributing
// daily records are archived afterwards.
type MonthlyRecord struct {
	Device string `json:"device"`

	// Month is the calendar month in YYYY-MM form.
	Month string `json:"month"`

	AvgCPU  float64 `json:"avg_cpu"`
	PeakCPU float64 `json:"peak_cpu"`
	AvgRAM  float64 `json:"avg_ram"`
	PeakRAM float64 `json:"peak_ram"`

	// Days is the number of daily records that contributed.
	Days int `json:"days"`

	// Flaps is the total count of confirmed interface down events.
	Flaps int `json:"flaps"`

	// Interfaces is keyed by interface label.
	Interfaces map[string]InterfaceMonthly `json:"interfaces"`
}

// ScriptState is the process-wide rollover checkpoint. It is persisted only
// after a monthly rollover fully completes, so a crash mid-rollover causes a
// safe retry rather than a skipped month.
type ScriptState struct {
	// LastReportedMonth is the most recent YYYY-MM for which monthly records
	// were produced and archived.
	LastReportedMonth string `json:"last_reported_month"`
}
