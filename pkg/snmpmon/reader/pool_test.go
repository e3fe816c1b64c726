package reader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/opsdesk/snmpmon/models"
)

// countingDialer hands out fresh unconnected sessions and counts dials.
type countingDialer struct {
	dials atomic.Int32
}

func (c *countingDialer) dial(dev models.DeviceDescriptor) (*gosnmp.GoSNMP, error) {
	c.dials.Add(1)
	return &gosnmp.GoSNMP{Target: dev.Address}, nil
}

func testPool(t *testing.T, opts PoolOptions, d *countingDialer) *ConnectionPool {
	t.Helper()
	opts.Dial = d.dial
	p := NewConnectionPool(opts, nil)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoolReusesIdleConnection(t *testing.T) {
	d := &countingDialer{}
	p := testPool(t, PoolOptions{MaxIdlePerDevice: 1}, d)
	dev := models.DeviceDescriptor{Name: "router-1", Address: "10.0.0.1"}

	conn, err := p.Get(context.Background(), dev)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put(dev.Name, conn)

	conn2, err := p.Get(context.Background(), dev)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	p.Put(dev.Name, conn2)

	if conn2 != conn {
		t.Error("idle connection was not reused")
	}
	if got := d.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestPoolDiscardForcesRedial(t *testing.T) {
	d := &countingDialer{}
	p := testPool(t, PoolOptions{}, d)
	dev := models.DeviceDescriptor{Name: "router-1", Address: "10.0.0.1"}

	conn, err := p.Get(context.Background(), dev)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Discard(dev.Name, conn)

	if _, err := p.Get(context.Background(), dev); err != nil {
		t.Fatalf("Get after discard: %v", err)
	}
	if got := d.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2 (discarded connection not reused)", got)
	}
}

func TestPoolEnforcesPerDeviceConcurrency(t *testing.T) {
	d := &countingDialer{}
	p := testPool(t, PoolOptions{MaxConcurrentPerDevice: 1}, d)
	dev := models.DeviceDescriptor{Name: "router-1", Address: "10.0.0.1"}

	conn, err := p.Get(context.Background(), dev)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Second Get must block until the first slot frees; a short context
	// proves the block.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx, dev); err == nil {
		t.Fatal("Get exceeded the per-device concurrency limit")
	}

	p.Put(dev.Name, conn)
	if _, err := p.Get(context.Background(), dev); err != nil {
		t.Fatalf("Get after release: %v", err)
	}
}

func TestPoolSeparateDevicesDoNotContend(t *testing.T) {
	d := &countingDialer{}
	p := testPool(t, PoolOptions{MaxConcurrentPerDevice: 1}, d)

	if _, err := p.Get(context.Background(), models.DeviceDescriptor{Name: "a"}); err != nil {
		t.Fatalf("Get a: %v", err)
	}
	// Device b has its own semaphore.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Get(ctx, models.DeviceDescriptor{Name: "b"}); err != nil {
		t.Fatalf("Get b blocked on device a's limit: %v", err)
	}
}

func TestPoolIdleTimeoutDropsStaleConnections(t *testing.T) {
	d := &countingDialer{}
	p := testPool(t, PoolOptions{IdleTimeout: time.Millisecond}, d)
	dev := models.DeviceDescriptor{Name: "router-1", Address: "10.0.0.1"}

	conn, err := p.Get(context.Background(), dev)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put(dev.Name, conn)

	time.Sleep(5 * time.Millisecond)

	if _, err := p.Get(context.Background(), dev); err != nil {
		t.Fatalf("Get after idle expiry: %v", err)
	}
	if got := d.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2 (stale idle connection dropped)", got)
	}
}

func TestPoolCloseRejectsGet(t *testing.T) {
	d := &countingDialer{}
	p := testPool(t, PoolOptions{}, d)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Get(context.Background(), models.DeviceDescriptor{Name: "x"}); err == nil {
		t.Error("Get succeeded on a closed pool")
	}
	// Closing twice is harmless.
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
