// Package reader implements the metric-retrieval boundary of the monitor.
// It converts device descriptors into live gosnmp sessions, manages a
// per-device connection pool, and executes the Get operations that produce
// one RawReading per device per cycle.
package reader

import (
	"context"
	"fmt"

	"github.com/opsdesk/snmpmon/models"
)

// Reader fetches one raw reading for a device. Implementations must apply
// their own transport timeout and must not fail for reachable-but-degraded
// devices: partial data is returned with per-metric validity flags, and only
// total unreachability yields a *TransportError.
type Reader interface {
	Fetch(ctx context.Context, dev models.DeviceDescriptor) (models.RawReading, error)
}

// TransportError reports a device that could not be reached at all this
// cycle. It is isolated per device and retried on the next interval.
type TransportError struct {
	Device string
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reader: %s: %s: %v", e.Device, e.Reason, e.Err)
	}
	return fmt.Sprintf("reader: %s: %s", e.Device, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }
