package reader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/opsdesk/snmpmon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// SNMPReader — production implementation
// ─────────────────────────────────────────────────────────────────────────────

// SNMPReader is the production Reader backed by a ConnectionPool. One Fetch
// issues a single batched Get covering the device's scalar metric OIDs and
// every monitored interface's status and octet counters.
type SNMPReader struct {
	pool   *ConnectionPool
	logger *slog.Logger
}

// NewSNMPReader creates a reader that obtains sessions from pool.
func NewSNMPReader(pool *ConnectionPool, logger *slog.Logger) *SNMPReader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &SNMPReader{pool: pool, logger: logger}
}

// Fetch polls the device once and assembles a RawReading.
//
// Per-metric failure (missing varbind, noSuchObject, unparseable value) marks
// that metric invalid and continues; only a failed Get for the whole request
// returns a *TransportError.
func (r *SNMPReader) Fetch(ctx context.Context, dev models.DeviceDescriptor) (models.RawReading, error) {
	reading := models.RawReading{Device: dev.Name}

	conn, err := r.pool.Get(ctx, dev)
	if err != nil {
		return reading, &TransportError{Device: dev.Name, Reason: "session", Err: err}
	}

	oids := planOIDs(dev)
	started := time.Now()
	pdus, err := r.get(conn, oids)
	reading.Timestamp = time.Now()

	if err != nil {
		// Connection might be broken — discard it.
		r.pool.Discard(dev.Name, conn)
		return reading, &TransportError{Device: dev.Name, Reason: "get", Err: err}
	}
	r.pool.Put(dev.Name, conn)

	byOID := indexPDUs(pdus)
	decodeScalars(dev, byOID, &reading, r.logger)
	decodeInterfaces(dev, byOID, &reading, r.logger)

	r.logger.Debug("reader: fetch complete",
		"device", dev.Name,
		"oids", len(oids),
		"pdu_count", len(pdus),
		"duration_ms", reading.Timestamp.Sub(started).Milliseconds(),
	)
	return reading, nil
}

// get performs the batched Get, splitting by the session's MaxOids limit.
func (r *SNMPReader) get(conn *gosnmp.GoSNMP, oids []string) ([]gosnmp.SnmpPDU, error) {
	maxOids := int(conn.MaxOids)
	if maxOids <= 0 {
		maxOids = 60
	}

	var all []gosnmp.SnmpPDU
	for i := 0; i < len(oids); i += maxOids {
		end := i + maxOids
		if end > len(oids) {
			end = len(oids)
		}
		pkt, err := conn.Get(oids[i:end])
		if err != nil {
			return all, err
		}
		all = append(all, pkt.Variables...)
	}
	return all, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// OID planning and decoding
// ─────────────────────────────────────────────────────────────────────────────

// ifOIDs returns the status / in / out OIDs for one interface, selecting the
// 64-bit high-capacity counters when the interface is configured for them.
func ifOIDs(ifc models.InterfaceSpec) (status, in, out string) {
	status = fmt.Sprintf("%s.%d", models.IfOperStatusOID, ifc.Index)
	if ifc.Counter64 {
		in = fmt.Sprintf("%s.%d", models.IfHCInOctetsOID, ifc.Index)
		out = fmt.Sprintf("%s.%d", models.IfHCOutOctets, ifc.Index)
		return
	}
	in = fmt.Sprintf("%s.%d", models.IfInOctetsOID, ifc.Index)
	out = fmt.Sprintf("%s.%d", models.IfOutOctetsOID, ifc.Index)
	return
}

// planOIDs builds the full Get list for a device: scalars first, then per
// interface in declaration order.
func planOIDs(dev models.DeviceDescriptor) []string {
	oids := make([]string, 0, 3+3*len(dev.Interfaces))
	oids = append(oids, dev.OIDs.CPU, dev.OIDs.RAMTotal, dev.OIDs.RAMUsed)
	for _, ifc := range dev.Interfaces {
		status, in, out := ifOIDs(ifc)
		oids = append(oids, status, in, out)
	}
	return oids
}

// indexPDUs maps normalized OID → PDU for lookup.
func indexPDUs(pdus []gosnmp.SnmpPDU) map[string]gosnmp.SnmpPDU {
	byOID := make(map[string]gosnmp.SnmpPDU, len(pdus))
	for _, pdu := range pdus {
		byOID[strings.TrimPrefix(pdu.Name, ".")] = pdu
	}
	return byOID
}

func decodeScalars(dev models.DeviceDescriptor, byOID map[string]gosnmp.SnmpPDU, reading *models.RawReading, logger *slog.Logger) {
	if cpu, ok := lookupUint(byOID, dev.OIDs.CPU); ok {
		reading.CPUPercent = float64(cpu)
		reading.CPUValid = true
	} else {
		logger.Warn("reader: cpu oid missing or unparseable", "device", dev.Name, "oid", dev.OIDs.CPU)
	}

	total, okTotal := lookupUint(byOID, dev.OIDs.RAMTotal)
	used, okUsed := lookupUint(byOID, dev.OIDs.RAMUsed)
	if okTotal && okUsed && total > 0 {
		reading.RAMPercent = float64(used) / float64(total) * 100
		reading.RAMValid = true
	} else {
		logger.Warn("reader: ram oids missing or unparseable", "device", dev.Name)
	}
}

func decodeInterfaces(dev models.DeviceDescriptor, byOID map[string]gosnmp.SnmpPDU, reading *models.RawReading, logger *slog.Logger) {
	for _, ifc := range dev.Interfaces {
		statusOID, inOID, outOID := ifOIDs(ifc)

		ir := models.InterfaceReading{Index: ifc.Index}
		status, okStatus := lookupUint(byOID, statusOID)
		in, okIn := lookupUint(byOID, inOID)
		out, okOut := lookupUint(byOID, outOID)

		if okStatus && okIn && okOut {
			ir.OperStatus = models.OperStatus(status)
			ir.InOctets = in
			ir.OutOctets = out
			ir.Valid = true
		} else {
			logger.Warn("reader: interface oids incomplete",
				"device", dev.Name,
				"interface", ifc.Label,
				"if_index", ifc.Index,
			)
		}
		reading.Interfaces = append(reading.Interfaces, ir)
	}
}

// lookupUint fetches an OID's value as uint64. It returns false for missing
// varbinds, SNMP exception types, and non-numeric values.
func lookupUint(byOID map[string]gosnmp.SnmpPDU, oid string) (uint64, bool) {
	pdu, ok := byOID[strings.TrimPrefix(oid, ".")]
	if !ok {
		return 0, false
	}
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return 0, false
	}
	return toUint64(pdu.Value)
}

// toUint64 converts a gosnmp PDU value to uint64 without panicking.
func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case int64:
		if x >= 0 {
			return uint64(x), true
		}
	case int:
		if x >= 0 {
			return uint64(x), true
		}
	}
	return 0, false
}
