package kring

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// stats are kept per handle, outside the shared header. Producer and
// consumer counters sit on separate cache lines.
type stats struct {
	enqueueCalls    atomic.Uint64
	enqueued        atomic.Uint64
	enqueueLockBusy atomic.Uint64
	enqueueFull     atomic.Uint64

	_ cpu.CacheLinePad

	dequeueCalls    atomic.Uint64
	dequeued        atomic.Uint64
	dequeueLockBusy atomic.Uint64
	dequeueEmpty    atomic.Uint64

	_ cpu.CacheLinePad

	violations atomic.Uint64
}

// Stats is a snapshot of the counters of one Queue handle.
type Stats struct {
	EnqueueCalls    uint64 // Enqueue calls with a valid element size
	Enqueued        uint64 // elements written
	EnqueueLockBusy uint64 // calls that returned ErrLockBusy
	EnqueueFull     uint64 // calls that wrote fewer elements than asked

	DequeueCalls    uint64
	Dequeued        uint64
	DequeueLockBusy uint64
	DequeueEmpty    uint64 // calls that read fewer elements than asked

	Violations uint64 // contract violations reported
}

// Stats retrieves the current statistics of this handle. Other handles
// attached to the same region keep their own counters.
func (q *Queue) Stats() Stats {
	s := &q.stats
	return Stats{
		EnqueueCalls:    s.enqueueCalls.Load(),
		Enqueued:        s.enqueued.Load(),
		EnqueueLockBusy: s.enqueueLockBusy.Load(),
		EnqueueFull:     s.enqueueFull.Load(),
		DequeueCalls:    s.dequeueCalls.Load(),
		Dequeued:        s.dequeued.Load(),
		DequeueLockBusy: s.dequeueLockBusy.Load(),
		DequeueEmpty:    s.dequeueEmpty.Load(),
		Violations:      s.violations.Load(),
	}
}
