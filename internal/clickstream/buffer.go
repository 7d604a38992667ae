package clickstream

import (
	"sync"
	"sync/atomic"

	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/model"
)

// Buffer is the bounded hand-off between the redirect path and the click
// persister. Push never blocks: when the buffer is full the event is dropped
// and counted. The backpressure policy is lossy on purpose, favoring
// redirect latency over analytics completeness.
type Buffer struct {
	ch       chan model.ClickEvent
	dropped  uint64
	recorded uint64

	// mu orders Push's send against Close's close(ch). Push holds the read
	// lock across the closed check and the send; Close holds the write lock
	// while closing. The send is non-blocking, so the lock is never held
	// across a wait.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewBuffer creates a buffer with the given capacity.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 10000
	}
	return &Buffer{ch: make(chan model.ClickEvent, size)}
}

// Push enqueues an event without blocking. Returns false when the event was
// dropped because the buffer is full or already closed.
func (b *Buffer) Push(event model.ClickEvent) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- event:
		atomic.AddUint64(&b.recorded, 1)
		metrics.RecordClickAccepted()
		return true
	default:
		atomic.AddUint64(&b.dropped, 1)
		metrics.RecordClickDropped()
		// Log-free on the hot path; the persister reports drop totals.
		return false
	}
}

// Close stops accepting events. Safe to call more than once, and safe to
// call while other goroutines are pushing.
func (b *Buffer) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
	})
}

// Len returns the number of events currently buffered.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ch)
}

// BufferStats describes buffer occupancy and loss.
type BufferStats struct {
	Capacity      int    `json:"capacity"`
	Used          int    `json:"used"`
	DroppedEvents uint64 `json:"dropped_events"`
	TotalRecorded uint64 `json:"total_recorded"`
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() BufferStats {
	if b == nil {
		return BufferStats{}
	}
	return BufferStats{
		Capacity:      cap(b.ch),
		Used:          len(b.ch),
		DroppedEvents: atomic.LoadUint64(&b.dropped),
		TotalRecorded: atomic.LoadUint64(&b.recorded),
	}
}
