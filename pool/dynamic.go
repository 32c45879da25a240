// Package pool provides a buffer pool that trades off the cost of allocation
// versus retention. It is meant to avoid the pessimal behaviour (see [issue
// 23199]) seen when using a regular sync.Pool with buffers of dynamic sizes;
// buffers that are too large are kept alive by repeat usages that don't need
// such sizes.
//
// Archive entries vary from a few hundred bytes for a small class to many
// megabytes for a nested JAR, which is exactly that case.
//
// [issue 23199]: https://github.com/golang/go/issues/23199
package pool

import (
	"math"
	"sync"
	"sync/atomic"
)

// Buffers is like a sync.Pool of byte slices of varying sizes.
//
// It prevents the indefinite retention of (too) large buffers by keeping a
// history of required buffer sizes (utility) and comparing them to the actual
// buffer capacity (cost) before accepting a buffer back.
type Buffers struct {
	// MinSize is the size below which keeping a buffer is always cheaper than
	// allocating a new one. Buffers handed out by Get have at least this
	// capacity.
	MinSize int

	pool       sync.Pool
	avgUtility uint64 // Actually a float64, but that type does not have atomic ops.
}

// Get returns a buffer of length n. Its contents are unspecified.
func (p *Buffers) Get(n int) []byte {
	if v, ok := p.pool.Get().(*[]byte); ok && cap(*v) >= n {
		return (*v)[:n]
	}
	capacity := n
	if capacity < p.MinSize {
		capacity = p.MinSize // Allocating much smaller buffers could lead to quick re-allocations.
	}
	return make([]byte, n, capacity)
}

// Put offers b back to the pool and reports whether it was kept. The length
// of b is taken as the part of the buffer that was actually used.
func (p *Buffers) Put(b []byte) bool {
	utility, cost := float64(len(b)), float64(cap(b))

	// Update the average utility. Uses atomic load/store, which means that
	// values can get lost if Put is called concurrently. That's fine, we're
	// just looking for an approximate (weighted) moving average.
	avgUtility := math.Float64frombits(atomic.LoadUint64(&p.avgUtility))
	avgUtility = decay(avgUtility, utility, float64(p.MinSize))
	atomic.StoreUint64(&p.avgUtility, math.Float64bits(avgUtility))

	if cost > 10*avgUtility {
		return false // If the cost is 10x larger than the average utility, drop it.
	}
	b = b[:0]
	p.pool.Put(&b)
	return true
}

// decay updates returns `val` if `val > `prev`, otherwise it returns an
// exponentially moving average of `prev` and `val` (with factor 0.5. This is
// meant to provide a slower downramp if `val` drops ever lower. The minimum
// value is `min`.
func decay(prev, val, min float64) float64 {
	if val < min {
		val = min
	}
	if prev == 0 || val > prev {
		return val
	}
	const factor = 0.5
	return (prev * factor) + (val * (1 - factor))
}
