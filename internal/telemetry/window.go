// Package telemetry holds the lock-free accounting primitives shared by the
// circuit breaker, the registry, and the load balancer: a sliding-window
// bucket counter and a coarse latency histogram. Every field here is an
// atomic integer; the only synchronization is the rotation CAS in
// SlidingWindow.record, so recording an outcome never takes a lock on the
// hot path.
package telemetry

import (
	"sync/atomic"
	"time"
)

// Outcome classifies one completed attempt for sliding-window accounting.
type Outcome int

// Outcome constants recorded into a SlidingWindow bucket.
const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
	OutcomeRejection
)

// bucket holds atomic counters for one time slice of the window.
type bucket struct {
	success   atomic.Int64
	failure   atomic.Int64
	timeout   atomic.Int64
	rejection atomic.Int64
	stamp     atomic.Int64 // unix nano of the bucket's current epoch
}

func (b *bucket) reset(stamp int64) {
	b.success.Store(0)
	b.failure.Store(0)
	b.timeout.Store(0)
	b.rejection.Store(0)
	b.stamp.Store(stamp)
}

func (b *bucket) add(o Outcome) {
	switch o {
	case OutcomeSuccess:
		b.success.Add(1)
	case OutcomeFailure:
		b.failure.Add(1)
	case OutcomeTimeout:
		b.timeout.Add(1)
	case OutcomeRejection:
		b.rejection.Add(1)
	}
}

// Snapshot is a point-in-time aggregate over all live buckets in a window.
type Snapshot struct {
	Success   int64
	Failure   int64
	Timeout   int64
	Rejection int64
}

// Total returns the number of requests counted in the snapshot (success +
// failure + timeout; rejections are not admitted requests).
func (s Snapshot) Total() int64 { return s.Success + s.Failure + s.Timeout }

// FailureRate returns failure/total, or (failure+timeout)/total when
// countTimeouts is true, or 0 when total is 0.
func (s Snapshot) FailureRate(countTimeouts bool) float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	fails := s.Failure
	if countTimeouts {
		fails += s.Timeout
	}
	return float64(fails) / float64(total)
}

// SlidingWindow partitions a duration into N contiguous buckets and tracks
// per-bucket outcome counts. Rotation is lazy: a bucket whose epoch has
// elapsed is zeroed on the next write that lands in it, not on a timer.
type SlidingWindow struct {
	buckets    []bucket
	bucketSpan time.Duration
	now        func() time.Time
}

// NewSlidingWindow creates a window of the given total duration split into n
// equal buckets (n defaults to 10, duration to 10s).
func NewSlidingWindow(duration time.Duration, n int) *SlidingWindow {
	if n <= 0 {
		n = 10
	}
	if duration <= 0 {
		duration = 10 * time.Second
	}
	w := &SlidingWindow{
		buckets:    make([]bucket, n),
		bucketSpan: duration / time.Duration(n),
		now:        time.Now,
	}
	if w.bucketSpan <= 0 {
		w.bucketSpan = time.Millisecond
	}
	epoch := w.now().UnixNano()
	for i := range w.buckets {
		w.buckets[i].stamp.Store(epoch)
	}
	return w
}

func (w *SlidingWindow) index(t time.Time) (int, int64) {
	span := int64(w.bucketSpan)
	slot := t.UnixNano() / span
	idx := int(slot % int64(len(w.buckets)))
	if idx < 0 {
		idx += len(w.buckets)
	}
	return idx, slot
}

// Record adds one outcome to the bucket for the current time, rotating that
// bucket out first if its epoch has passed.
func (w *SlidingWindow) Record(o Outcome) {
	idx, slot := w.index(w.now())
	b := &w.buckets[idx]
	if b.stamp.Load() != slot {
		// Lazily rotate: whoever wins the CAS resets the bucket; losers'
		// writes still land in the now-current epoch, which is acceptable
		// under the window's eventually-consistent visibility guarantee.
		if b.stamp.CompareAndSwap(b.stamp.Load(), slot) {
			b.reset(slot)
		}
	}
	b.add(o)
}

// Snapshot aggregates all buckets whose epoch falls within the live window
// (i.e. excludes buckets that have aged out even though their memory slot
// has not yet been reused).
func (w *SlidingWindow) Snapshot() Snapshot {
	_, currentSlot := w.index(w.now())
	var s Snapshot
	for i := range w.buckets {
		b := &w.buckets[i]
		stamp := b.stamp.Load()
		age := currentSlot - stamp
		if age < 0 || age >= int64(len(w.buckets)) {
			continue // aged out or not yet written
		}
		s.Success += b.success.Load()
		s.Failure += b.failure.Load()
		s.Timeout += b.timeout.Load()
		s.Rejection += b.rejection.Load()
	}
	return s
}

// Reset zeroes every bucket immediately (used when a breaker closes and
// wants a clean window for the next evaluation cycle).
func (w *SlidingWindow) Reset() {
	epoch := w.now().UnixNano() / int64(w.bucketSpan)
	for i := range w.buckets {
		w.buckets[i].reset(epoch)
	}
}
