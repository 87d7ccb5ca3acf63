//go:build linux || darwin

package eventloop

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for a loop created with [WithMetrics].
// It is safe for concurrent use.
//
// Example:
//
//	loop, _ := New(nil, WithMetrics(true))
//	_ = loop.RunForever()
//	if stats, ok := loop.Metrics(); ok {
//		fmt.Printf("callbacks: %d, P99 latency: %v\n",
//			stats.Callbacks, stats.Latency.P99)
//	}
type Metrics struct {
	iterations atomic.Uint64
	callbacks  atomic.Uint64
	exceptions atomic.Uint64
	latency    LatencyMetrics
}

// MetricsSnapshot is a point in time copy of [Metrics].
type MetricsSnapshot struct {
	// Iterations is the number of loop iterations (selector dispatches).
	Iterations uint64
	// Callbacks is the number of callbacks run, including those that panicked.
	Callbacks uint64
	// Exceptions is the number of calls to the exception handler.
	Exceptions uint64
	// Latency is the callback execution time distribution.
	Latency LatencySnapshot
}

// LatencySnapshot holds percentiles computed by [LatencyMetrics.Sample].
type LatencySnapshot struct {
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// LatencyMetrics tracks latency distribution with percentiles.
type LatencyMetrics struct {
	mu          sync.Mutex
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration
	sum         time.Duration
}

// sampleSize is the number of most recent samples percentiles are computed
// over.
const sampleSize = 1000

// Record records a latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// If buffer is full, subtract the old sample that we're replacing
	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from the retained samples.
//
// Sorting is O(n log n), with n capped at sampleSize, so this should not be
// called from hot paths.
func (l *LatencyMetrics) Sample() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return LatencySnapshot{}
	}

	sorted := slices.Clone(l.samples[:count])
	slices.Sort(sorted)

	return LatencySnapshot{
		P50:   sorted[percentileIndex(count, 50)],
		P90:   sorted[percentileIndex(count, 90)],
		P95:   sorted[percentileIndex(count, 95)],
		P99:   sorted[percentileIndex(count, 99)],
		Max:   sorted[count-1],
		Mean:  l.sum / time.Duration(count),
		Count: count,
	}
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// Snapshot returns a copy of the current metrics, computing latency
// percentiles.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Iterations: m.iterations.Load(),
		Callbacks:  m.callbacks.Load(),
		Exceptions: m.exceptions.Load(),
		Latency:    m.latency.Sample(),
	}
}
