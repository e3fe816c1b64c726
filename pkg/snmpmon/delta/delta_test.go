package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMonotonic(t *testing.T) {
	e := New(Config{}, nil)

	res := e.Compute("router-1", "wan", 1000, 4500, Width32, time.Minute)
	assert.Equal(t, uint64(3500), res.Delta)
	assert.False(t, res.Wrapped)
	assert.False(t, res.Discarded)
}

func TestComputeEqualCountersYieldZero(t *testing.T) {
	e := New(Config{}, nil)

	res := e.Compute("router-1", "wan", 7777, 7777, Width64, time.Minute)
	assert.Zero(t, res.Delta)
	assert.False(t, res.Wrapped)
}

func TestComputeWrap32(t *testing.T) {
	e := New(Config{}, nil)

	// prev near the 32-bit ceiling, cur just past zero:
	// delta = (2^32 - prev) + cur.
	prev := uint64(^uint32(0)) - 99 // 2^32 - 100
	res := e.Compute("router-1", "wan", prev, 50, Width32, time.Minute)

	assert.Equal(t, uint64(150), res.Delta)
	assert.True(t, res.Wrapped)
	assert.False(t, res.Discarded)
}

func TestComputeWrap64(t *testing.T) {
	e := New(Config{}, nil)

	prev := ^uint64(0) - 9 // 2^64 - 10
	res := e.Compute("router-1", "wan", prev, 5, Width64, time.Minute)

	assert.Equal(t, uint64(15), res.Delta)
	assert.True(t, res.Wrapped)
}

// A 32-bit counter that appears to wrap when it actually reset (device
// reboot) implies an absurd rate; the sanity ceiling must discard it rather
// than inflate the daily total.
func TestComputeDiscardsImplausibleRate(t *testing.T) {
	e := New(Config{MaxRateBytesPerSec: 1e6}, nil)

	res := e.Compute("router-1", "wan", 0, 10_000_000_000, Width64, time.Minute)
	require.True(t, res.Discarded)
	assert.Zero(t, res.Delta)
	assert.Equal(t, uint64(1), e.DiscardedCount())

	// A second plausible sample passes through untouched.
	res = e.Compute("router-1", "wan", 100, 200, Width64, time.Minute)
	assert.False(t, res.Discarded)
	assert.Equal(t, uint64(100), res.Delta)
	assert.Equal(t, uint64(1), e.DiscardedCount())
}

func TestComputeNegativeCeilingDisablesCheck(t *testing.T) {
	e := New(Config{MaxRateBytesPerSec: -1}, nil)

	res := e.Compute("router-1", "wan", 0, ^uint64(0)/2, Width64, time.Second)
	assert.False(t, res.Discarded)
}

func TestComputeZeroElapsedSkipsRateCheck(t *testing.T) {
	// First-ever observation has no previous timestamp; the rate is
	// undefined so the delta must survive.
	e := New(Config{MaxRateBytesPerSec: 1}, nil)

	res := e.Compute("router-1", "wan", 0, 5000, Width32, 0)
	assert.False(t, res.Discarded)
	assert.Equal(t, uint64(5000), res.Delta)
}

func TestWidthMax(t *testing.T) {
	assert.Equal(t, uint64(4294967295), Width32.Max())
	assert.Equal(t, ^uint64(0), Width64.Max())
}
