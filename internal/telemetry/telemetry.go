package telemetry

import (
	"math"
	"sync"
)

// Progress is one snapshot of a transfer.
// Total is zero when the size is unknown, in which case Percent is zero too.
type Progress struct {
	Percent  int   `json:"percent"`
	Received int64 `json:"receivedBytes"`
	Total    int64 `json:"totalBytes"`
}

// Known reports whether the snapshot carries a meaningful percentage.
func (p Progress) Known() bool {
	return p.Total > 0
}

// Func receives progress snapshots.
type Func func(Progress)

// Percent converts a byte count to a whole percentage in [0, 100].
func Percent(received, total int64) int {
	if total <= 0 || received <= 0 {
		return 0
	}
	pct := math.Round(float64(received) * 100 / float64(total))
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}

// Snapshot builds a Progress value.
func Snapshot(received, total int64) Progress {
	if total < 0 {
		total = 0
	}
	return Progress{Percent: Percent(received, total), Received: received, Total: total}
}

// Aggregator folds per-chunk counters into one progress stream.
// Each chunk reports its own running count; the total is recomputed from
// every counter on each update so no update is lost.
type Aggregator struct {
	mu     sync.Mutex
	total  int64
	chunks []int64
	emit   Func
}

// NewAggregator creates an aggregator for count chunks of a total-byte resource.
func NewAggregator(total int64, count int, emit Func) *Aggregator {
	return &Aggregator{total: total, chunks: make([]int64, count), emit: emit}
}

// Update records that chunk index has received bytes so far and emits the
// combined snapshot.
func (a *Aggregator) Update(index int, received int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.chunks) {
		return
	}
	a.chunks[index] = received
	if a.emit != nil {
		a.emit(Snapshot(a.sumLocked(), a.total))
	}
}

// Received returns the combined byte count.
func (a *Aggregator) Received() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sumLocked()
}

func (a *Aggregator) sumLocked() int64 {
	var sum int64
	for _, n := range a.chunks {
		sum += n
	}
	return sum
}

// Counter tracks a single stream.
type Counter struct {
	total    int64
	received int64
	emit     Func
}

// NewCounter creates a counter for a stream of total bytes (0 if unknown).
func NewCounter(total int64, emit Func) *Counter {
	return &Counter{total: total, emit: emit}
}

// Add records n more bytes and emits a snapshot.
func (c *Counter) Add(n int) {
	c.received += int64(n)
	if c.emit != nil {
		c.emit(Snapshot(c.received, c.total))
	}
}

// Received returns the bytes counted so far.
func (c *Counter) Received() int64 {
	return c.received
}
