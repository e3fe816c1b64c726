package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/opsdesk/snmpmon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// PoolOptions configures the connection pool behaviour.
type PoolOptions struct {
	// MaxIdlePerDevice is the maximum number of idle sessions kept per device
	// (default 1). Excess sessions returned via Put are closed immediately.
	MaxIdlePerDevice int

	// MaxConcurrentPerDevice bounds in-flight sessions per device (default 2).
	MaxConcurrentPerDevice int

	// IdleTimeout is how long an idle session remains in the pool before
	// being discarded. Zero means no expiry.
	IdleTimeout time.Duration

	// Dial creates new gosnmp sessions. Defaults to NewSession when nil.
	Dial func(models.DeviceDescriptor) (*gosnmp.GoSNMP, error)
}

func (o *PoolOptions) defaults() {
	if o.MaxIdlePerDevice <= 0 {
		o.MaxIdlePerDevice = 1
	}
	if o.MaxConcurrentPerDevice <= 0 {
		o.MaxConcurrentPerDevice = 2
	}
	if o.Dial == nil {
		o.Dial = NewSession
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection pool
// ─────────────────────────────────────────────────────────────────────────────

// poolEntry is a single idle connection together with the time it was returned.
type poolEntry struct {
	conn       *gosnmp.GoSNMP
	returnedAt time.Time
}

// devicePool is the per-device idle list + concurrency semaphore.
type devicePool struct {
	mu   sync.Mutex
	idle []poolEntry // LIFO stack

	// sem limits concurrent in-flight connections for this device.
	sem chan struct{}
}

// ConnectionPool manages gosnmp sessions keyed by device name. It enforces
// per-device concurrency limits and recycles idle sessions.
type ConnectionPool struct {
	opts   PoolOptions
	logger *slog.Logger

	mu    sync.RWMutex
	pools map[string]*devicePool // device name → pool

	closed chan struct{}
}

// NewConnectionPool creates a ready-to-use pool.
func NewConnectionPool(opts PoolOptions, logger *slog.Logger) *ConnectionPool {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &ConnectionPool{
		opts:   opts,
		logger: logger,
		pools:  make(map[string]*devicePool),
		closed: make(chan struct{}),
	}
}

// Get acquires a session for the given device. It blocks if the per-device
// concurrency limit has been reached, and respects context cancellation.
func (p *ConnectionPool) Get(ctx context.Context, dev models.DeviceDescriptor) (*gosnmp.GoSNMP, error) {
	dp := p.getOrCreatePool(dev.Name)

	select {
	case <-p.closed:
		return nil, fmt.Errorf("pool closed")
	default:
	}

	select {
	case dp.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("pool closed")
	}

	if conn := p.popIdle(dp); conn != nil {
		return conn, nil
	}

	conn, err := p.opts.Dial(dev)
	if err != nil {
		<-dp.sem
		return nil, err
	}
	return conn, nil
}

// Put returns a connection to the idle pool for reuse. If the pool is full
// the connection is closed. Put also releases the concurrency slot.
func (p *ConnectionPool) Put(device string, conn *gosnmp.GoSNMP) {
	dp := p.getPool(device)
	if dp == nil {
		if conn.Conn != nil {
			_ = conn.Conn.Close()
		}
		return
	}
	defer func() { <-dp.sem }()

	dp.mu.Lock()
	defer dp.mu.Unlock()

	if len(dp.idle) >= p.opts.MaxIdlePerDevice {
		if conn.Conn != nil {
			_ = conn.Conn.Close()
		}
		return
	}
	dp.idle = append(dp.idle, poolEntry{conn: conn, returnedAt: time.Now()})
}

// Discard closes a connection and releases the concurrency slot without
// pooling it. Use this when a connection is known to be broken.
func (p *ConnectionPool) Discard(device string, conn *gosnmp.GoSNMP) {
	if conn.Conn != nil {
		_ = conn.Conn.Close()
	}
	dp := p.getPool(device)
	if dp != nil {
		<-dp.sem
	}
}

// Close drains all idle connections and prevents new Get calls.
func (p *ConnectionPool) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	close(p.closed)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, dp := range p.pools {
		dp.mu.Lock()
		for _, e := range dp.idle {
			if e.conn.Conn != nil {
				_ = e.conn.Conn.Close()
			}
		}
		dp.idle = nil
		dp.mu.Unlock()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (p *ConnectionPool) getOrCreatePool(device string) *devicePool {
	p.mu.RLock()
	dp, ok := p.pools[device]
	p.mu.RUnlock()
	if ok {
		return dp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if dp, ok = p.pools[device]; ok {
		return dp
	}
	dp = &devicePool{
		idle: make([]poolEntry, 0, p.opts.MaxIdlePerDevice),
		sem:  make(chan struct{}, p.opts.MaxConcurrentPerDevice),
	}
	p.pools[device] = dp
	return dp
}

func (p *ConnectionPool) getPool(device string) *devicePool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pools[device]
}

func (p *ConnectionPool) popIdle(dp *devicePool) *gosnmp.GoSNMP {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	for len(dp.idle) > 0 {
		n := len(dp.idle) - 1
		entry := dp.idle[n]
		dp.idle = dp.idle[:n]

		if p.opts.IdleTimeout > 0 && time.Since(entry.returnedAt) > p.opts.IdleTimeout {
			if entry.conn.Conn != nil {
				_ = entry.conn.Conn.Close()
			}
			continue
		}
		return entry.conn
	}
	return nil
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
