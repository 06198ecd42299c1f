// Package stats implements the statistics engine of spec.md §4.3: atomic
// per-procedure and lifetime counters with a 9-bucket latency histogram,
// updated on every request open/close, with a snapshot-vs-writer
// discipline that lets a reader take a consistent copy without stopping
// traffic for longer than the snapshot itself takes.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// NumBuckets is the number of latency buckets: [0,25), [25,50), ...,
// [175,200), [200,inf) milliseconds.
const NumBuckets = 9

const bucketWidthMillis = 25

func bucketFor(durationMillis int64) int {
	b := durationMillis / bucketWidthMillis
	if b >= NumBuckets-1 {
		return NumBuckets - 1
	}
	if b < 0 {
		return 0
	}
	return int(b)
}

// Status is the terminal disposition of a completed request, used to pick
// which counter close_request increments.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTimeout
	StatusAbort
)

// Counters is one {procedure -> stats} or lifetime accumulator. All
// mutating fields are accessed through sync/atomic so concurrent writers
// (RLock held) never race each other; the RWMutex instead arbitrates
// between the writer population and a snapshot in progress.
type Counters struct {
	mu sync.RWMutex // RLock for writers, Lock for Snapshot

	ended   int32 // atomic bool: set by End(), after which open_request is ignored
	endTick int64 // unix nano; 0 means "not ended"

	startTick int64 // unix nano, set at construction

	requestCount  int64
	responseCount int64
	failureCount  int64
	timeoutCount  int64
	abortCount    int64

	minLatency   int64 // atomic CAS; starts at minLatencySentinel (1<<62)
	maxLatency   int64 // atomic CAS; starts at -1 sentinel
	totalLatency int64

	latencyBuckets [NumBuckets]int64

	bytesSent     int64
	bytesReceived int64

	// resetWatermark: close_request for an execution id at or below this
	// value is dropped once ignorePending reset has been requested.
	resetWatermark   int64
	resetWatermarked int32 // atomic bool
	highestSeenID    int64
}

const (
	minLatencySentinel = int64(1) << 62
	maxLatencySentinel = int64(-1)
)

// New creates a fresh, unfrozen counters block starting now.
func New() *Counters {
	return &Counters{
		startTick:  time.Now().UnixNano(),
		minLatency: minLatencySentinel,
		maxLatency: maxLatencySentinel,
	}
}

func (c *Counters) frozen() bool {
	return atomic.LoadInt32(&c.ended) == 1
}

// OpenRequest records the start of a request. Ignored once the counters
// have been ended (a frozen lifetime tally or a closed connection's final
// snapshot). execID lets Reset's watermark track the highest id observed.
func (c *Counters) OpenRequest(execID uint64, bytesSent int64) {
	if c.frozen() {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frozen() {
		return
	}
	atomic.AddInt64(&c.requestCount, 1)
	atomic.AddInt64(&c.bytesSent, bytesSent)
	bumpHighWatermark(&c.highestSeenID, int64(execID))
}

// CloseRequest records the completion of a request. Negative serverDuration
// values are clamped to 0 per spec.md §4.3.
func (c *Counters) CloseRequest(execID uint64, serverDuration time.Duration, status Status, bytesReceived int64) {
	if atomic.LoadInt32(&c.resetWatermarked) == 1 && int64(execID) <= atomic.LoadInt64(&c.resetWatermark) {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	millis := serverDuration.Milliseconds()
	if millis < 0 {
		millis = 0
	}

	atomic.AddInt64(&c.responseCount, 1)
	switch status {
	case StatusFailure:
		atomic.AddInt64(&c.failureCount, 1)
	case StatusTimeout:
		atomic.AddInt64(&c.timeoutCount, 1)
	case StatusAbort:
		atomic.AddInt64(&c.abortCount, 1)
	}

	casMin(&c.minLatency, millis)
	casMax(&c.maxLatency, millis)
	atomic.AddInt64(&c.totalLatency, millis)
	atomic.AddInt64(&c.latencyBuckets[bucketFor(millis)], 1)
	atomic.AddInt64(&c.bytesReceived, bytesReceived)
}

// CountBytesReceived records bytes off the wire that don't correlate to any
// pending request (a late arrival after the request already completed via
// timeout or cancellation). It adds to bytes_received only: the request was
// already closed once, so counting a second response/abort here would
// violate response_count = failure+timeout+abort+success.
func (c *Counters) CountBytesReceived(bytesReceived int64) {
	if c.frozen() {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frozen() {
		return
	}
	atomic.AddInt64(&c.bytesReceived, bytesReceived)
}

// End freezes the counters: further OpenRequest calls are ignored and
// EndTick is fixed. Used when a connection closes so its lifetime tally
// stops accumulating new opens while still reporting completions already
// in flight.
func (c *Counters) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if atomic.CompareAndSwapInt32(&c.ended, 0, 1) {
		atomic.StoreInt64(&c.endTick, time.Now().UnixNano())
	}
}

// Reset clears the counters in place. When ignorePending is true, the
// highest execution id observed so far becomes a watermark: CloseRequest
// calls for ids at or below it are dropped, so responses already in flight
// at reset time don't pollute the new window.
func (c *Counters) Reset(ignorePending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ignorePending {
		atomic.StoreInt64(&c.resetWatermark, atomic.LoadInt64(&c.highestSeenID))
		atomic.StoreInt32(&c.resetWatermarked, 1)
	} else {
		atomic.StoreInt32(&c.resetWatermarked, 0)
	}

	atomic.StoreInt64(&c.requestCount, 0)
	atomic.StoreInt64(&c.responseCount, 0)
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt64(&c.timeoutCount, 0)
	atomic.StoreInt64(&c.abortCount, 0)
	atomic.StoreInt64(&c.minLatency, minLatencySentinel)
	atomic.StoreInt64(&c.maxLatency, maxLatencySentinel)
	atomic.StoreInt64(&c.totalLatency, 0)
	for i := range c.latencyBuckets {
		atomic.StoreInt64(&c.latencyBuckets[i], 0)
	}
	atomic.StoreInt64(&c.bytesSent, 0)
	atomic.StoreInt64(&c.bytesReceived, 0)
	atomic.StoreInt64(&c.startTick, time.Now().UnixNano())
	atomic.StoreInt64(&c.endTick, 0)
	atomic.StoreInt32(&c.ended, 0)
}

// Snapshot is an immutable copy captured under mutual exclusion with
// writers (Counters.mu.Lock excludes every in-flight OpenRequest/
// CloseRequest call, and vice versa).
type Snapshot struct {
	StartTick      time.Time
	EndTick        time.Time // zero value means "still open"
	RequestCount   int64
	ResponseCount  int64
	FailureCount   int64
	TimeoutCount   int64
	AbortCount     int64
	MinLatency     time.Duration
	MaxLatency     time.Duration
	TotalLatency   time.Duration
	LatencyBuckets [NumBuckets]int64
	BytesSent      int64
	BytesReceived  int64
}

// SuccessCount derives the success count implied by spec.md §8's invariant
// response_count = failure_count + timeout_count + abort_count + success_count.
func (s Snapshot) SuccessCount() int64 {
	return s.ResponseCount - s.FailureCount - s.TimeoutCount - s.AbortCount
}

// AverageLatency is zero when no responses have been recorded.
func (s Snapshot) AverageLatency() time.Duration {
	if s.ResponseCount == 0 {
		return 0
	}
	return time.Duration(int64(s.TotalLatency) / s.ResponseCount)
}

// Snapshot takes an exclusive lock (excluding all concurrent writers) and
// returns a frozen copy of the counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		StartTick:     time.Unix(0, atomic.LoadInt64(&c.startTick)),
		RequestCount:  atomic.LoadInt64(&c.requestCount),
		ResponseCount: atomic.LoadInt64(&c.responseCount),
		FailureCount:  atomic.LoadInt64(&c.failureCount),
		TimeoutCount:  atomic.LoadInt64(&c.timeoutCount),
		AbortCount:    atomic.LoadInt64(&c.abortCount),
		TotalLatency:  time.Duration(atomic.LoadInt64(&c.totalLatency)) * time.Millisecond,
		BytesSent:     atomic.LoadInt64(&c.bytesSent),
		BytesReceived: atomic.LoadInt64(&c.bytesReceived),
	}
	if end := atomic.LoadInt64(&c.endTick); end != 0 {
		snap.EndTick = time.Unix(0, end)
	}
	minL := atomic.LoadInt64(&c.minLatency)
	if minL == minLatencySentinel {
		minL = 0
	}
	maxL := atomic.LoadInt64(&c.maxLatency)
	if maxL == maxLatencySentinel {
		maxL = 0
	}
	snap.MinLatency = time.Duration(minL) * time.Millisecond
	snap.MaxLatency = time.Duration(maxL) * time.Millisecond
	for i := range c.latencyBuckets {
		snap.LatencyBuckets[i] = atomic.LoadInt64(&c.latencyBuckets[i])
	}
	return snap
}

// Summarize aggregates a set of snapshots into one, associatively and
// commutatively: summarize([a,b,c]) == summarize([summarize([a,b]), c]) up
// to ordering-independent fields (spec.md §8, property 5).
func Summarize(snaps []Snapshot) Snapshot {
	var out Snapshot
	first := true
	for _, s := range snaps {
		if first {
			out.StartTick = s.StartTick
			out.EndTick = s.EndTick
			out.MinLatency = s.MinLatency
			out.MaxLatency = s.MaxLatency
			first = false
		} else {
			if s.StartTick.Before(out.StartTick) {
				out.StartTick = s.StartTick
			}
			if s.EndTick.After(out.EndTick) {
				out.EndTick = s.EndTick
			}
			if out.ResponseCount == 0 || (s.ResponseCount > 0 && s.MinLatency < out.MinLatency) {
				out.MinLatency = s.MinLatency
			}
			if s.MaxLatency > out.MaxLatency {
				out.MaxLatency = s.MaxLatency
			}
		}
		out.RequestCount += s.RequestCount
		out.ResponseCount += s.ResponseCount
		out.FailureCount += s.FailureCount
		out.TimeoutCount += s.TimeoutCount
		out.AbortCount += s.AbortCount
		out.TotalLatency += s.TotalLatency
		out.BytesSent += s.BytesSent
		out.BytesReceived += s.BytesReceived
		for i := 0; i < NumBuckets; i++ {
			out.LatencyBuckets[i] += s.LatencyBuckets[i]
		}
	}
	return out
}

func casMin(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v >= cur {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

func casMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

func bumpHighWatermark(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}
