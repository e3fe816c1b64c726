package reader

import (
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/opsdesk/snmpmon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session factory — DeviceDescriptor → *gosnmp.GoSNMP
// ─────────────────────────────────────────────────────────────────────────────

// NewSession creates and connects a gosnmp v2c session for the given device.
// The caller is responsible for calling Close when the session is no longer
// needed.
func NewSession(dev models.DeviceDescriptor) (*gosnmp.GoSNMP, error) {
	port := dev.Port
	if port == 0 {
		port = 161
	}
	timeout := time.Duration(dev.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	g := &gosnmp.GoSNMP{
		Target:    dev.Address,
		Port:      port,
		Version:   gosnmp.Version2c,
		Community: dev.Community,
		Timeout:   timeout,
		Retries:   dev.Retries,
		MaxOids:   60,
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s:%d: %w", dev.Address, port, err)
	}
	return g, nil
}
