package models

// Default Mikrotik / HOST-RESOURCES-MIB OIDs used when a device does not
// override them in configuration.
const (
	DefaultCPUOID      = "1.3.6.1.4.1.2021.11.10.0"
	DefaultRAMTotalOID = "1.3.6.1.2.1.25.2.3.1.5.65536"
	DefaultRAMUsedOID  = "1.3.6.1.2.1.25.2.3.1.6.65536"

	// Per-interface OID prefixes (the interface index is appended).
	IfOperStatusOID = "1.3.6.1.2.1.2.2.1.8"
	IfInOctetsOID   = "1.3.6.1.2.1.2.2.1.10"
	IfOutOctetsOID  = "1.3.6.1.2.1.2.2.1.16"
	IfHCInOctetsOID = "1.3.6.1.2.1.31.1.1.1.6"
	IfHCOutOctets   = "1.3.6.1.2.1.31.1.1.1.10"
)

// MetricOIDs holds the scalar OIDs polled for device health metrics.
type MetricOIDs struct {
	CPU      string `json:"cpu" yaml:"cpu"`
	RAMTotal string `json:"ram_total" yaml:"ram_total"`
	RAMUsed  string `json:"ram_used" yaml:"ram_used"`
}

// InterfaceSpec identifies one monitored interface on a device.
type InterfaceSpec struct {
	// Index is the SNMP ifIndex appended to the interface OID prefixes.
	Index int `json:"index" yaml:"index"`

	// Label is the human-readable interface name used in reports and as the
	// key for accumulated statistics.
	Label string `json:"label" yaml:"label"`

	// Counter64 selects the high-capacity (ifHC*) 64-bit octet counters.
	// When false the classic 32-bit ifInOctets/ifOutOctets are polled and
	// delta computation uses the 32-bit wrap boundary.
	Counter64 bool `json:"counter64" yaml:"counter64"`
}

// DeviceDescriptor is the fully resolved configuration for one monitored
// device. Descriptors are immutable after load and owned by the registry.
type DeviceDescriptor struct {
	// Name uniquely identifies the device across state files and reports.
	Name string `json:"name"`

	// Address is the IP or hostname the SNMP transport connects to.
	Address string `json:"address"`

	// Port is the SNMP UDP port (default 161).
	Port uint16 `json:"port"`

	// Community is the SNMPv2c community string.
	Community string `json:"community"`

	// TimeoutMS and Retries control the per-request SNMP transport behaviour.
	TimeoutMS int `json:"timeout_ms"`
	Retries   int `json:"retries"`

	// CPUThreshold and RAMThreshold are the alert thresholds in percent.
	// A strictly greater sample emits a threshold breach event.
	CPUThreshold float64 `json:"cpu_threshold"`
	RAMThreshold float64 `json:"ram_threshold"`

	// OIDs are the scalar metric OIDs for this device.
	OIDs MetricOIDs `json:"oids"`

	// Interfaces is the ordered set of monitored interfaces.
	Interfaces []InterfaceSpec `json:"interfaces"`
}

// Interface returns the InterfaceSpec with the given ifIndex, if present.
func (d DeviceDescriptor) Interface(index int) (InterfaceSpec, bool) {
	for _, ifc := range d.Interfaces {
		if ifc.Index == index {
			return ifc, true
		}
	}
	return InterfaceSpec{}, false
}
