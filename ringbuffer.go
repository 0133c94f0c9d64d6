// Package kring implements a bounded ring buffer carved out of a borrowed,
// cache-line aligned memory region. It moves fixed-size elements between one
// producer and one consumer context (for example an interrupt handler and the
// main loop) without allocating, blocking or yielding.
//
// The first 64 bytes of the region hold the queue header; element storage
// starts on the second cache line:
//
//	0   readHead   atomic uint64, next element index safe to read
//	8   writeHead  atomic uint64, next element index safe to write
//	16  flags      atomic uint32, READING (1<<0) and WRITING (1<<1) try-lock bits
//	20  elemSize   uint32
//	24  capacity   uint64, in elements
//	32  4 x sentinel 0x1eadbeef1eadbeef
//
// Head counters are monotonic element indexes; the physical slot is
// index % capacity.
package kring

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

const (
	// CacheLineSize is the required alignment of a queue region.
	CacheLineSize = 64

	// HeaderSize is the number of bytes reserved at the start of a region.
	HeaderSize = 64

	headerSentinel uint64 = 0x1eadbeef1eadbeef
)

// header is the control block placed at the base of the region.
type header struct {
	readHead  atomic.Uint64 // first element index that's safe to read from
	writeHead atomic.Uint64 // first element index that's safe to write to
	flags     atomic.Uint32
	elemSize  uint32
	capacity  uint64 // size in elements
	sentinel  [4]uint64
}

// header must fill exactly one cache line.
var (
	_ [HeaderSize - unsafe.Sizeof(header{})]struct{}
	_ [unsafe.Sizeof(header{}) - HeaderSize]struct{}
)

// Queue is a handle on a ring buffer living inside a caller-owned region.
// The region is borrowed: the queue never allocates or frees it, and it must
// outlive every handle created over it.
//
// Handles are safe for use by one producer and one consumer at a time.
type Queue struct {
	hdr      *header
	data     []byte
	elemSize int
	capacity uint64

	retries   int
	violation func(error)

	stats stats
}

// Create lays out a new queue header at the start of region and returns a
// handle on it. The rest of the region is used as element storage; capacity
// is the largest whole number of elemSize elements that fits after the
// header.
//
// On failure Create returns a nil queue and does not write to region.
func Create(region []byte, elemSize int, opts ...Option) (*Queue, error) {
	capacity, err := layout(region, elemSize)
	if err != nil {
		return nil, err
	}

	h := (*header)(unsafe.Pointer(&region[0]))
	h.readHead.Store(0)
	h.writeHead.Store(0)
	h.flags.Store(0)
	h.elemSize = uint32(elemSize)
	h.capacity = capacity
	for i := range h.sentinel {
		h.sentinel[i] = headerSentinel
	}

	return newQueue(h, region, elemSize, capacity, opts), nil
}

// Attach returns a handle on a queue previously laid out in region by
// Create. It is how a second context obtains its own view of a shared queue.
// The header is validated before use; region is not modified.
func Attach(region []byte, elemSize int, opts ...Option) (*Queue, error) {
	if _, err := layout(region, elemSize); err != nil {
		return nil, err
	}

	h := (*header)(unsafe.Pointer(&region[0]))
	if err := checkHeader(h, len(region)); err != nil {
		return nil, err
	}
	if int(h.elemSize) != elemSize {
		return nil, fmt.Errorf("kring: attach with element size %d, queue has %d: %w", elemSize, h.elemSize, ErrElemSize)
	}

	return newQueue(h, region, elemSize, h.capacity, opts), nil
}

func newQueue(h *header, region []byte, elemSize int, capacity uint64, opts []Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	end := HeaderSize + int(capacity)*elemSize
	return &Queue{
		hdr:       h,
		data:      region[HeaderSize:end:end],
		elemSize:  elemSize,
		capacity:  capacity,
		retries:   o.lockRetries,
		violation: o.violation,
	}
}

// layout checks that region can hold a queue of elemSize elements and
// returns the resulting capacity.
func layout(region []byte, elemSize int) (uint64, error) {
	if elemSize <= 0 || uint64(elemSize) > math.MaxUint32 {
		return 0, fmt.Errorf("kring: element size %d: %w", elemSize, ErrElemSize)
	}
	if len(region) == 0 {
		return 0, fmt.Errorf("kring: empty region: %w", ErrRegionTooSmall)
	}

	addr := uintptr(unsafe.Pointer(&region[0]))
	if addr%CacheLineSize != 0 {
		return 0, fmt.Errorf("kring: region base %#x: %w", addr, ErrMisaligned)
	}

	usable := len(region) - HeaderSize
	if usable < elemSize {
		return 0, fmt.Errorf("kring: %d byte region, element size %d: %w", len(region), elemSize, ErrRegionTooSmall)
	}

	return uint64(usable / elemSize), nil
}

func checkHeader(h *header, regionLen int) error {
	for i, s := range h.sentinel {
		if s != headerSentinel {
			return fmt.Errorf("kring: sentinel %d is %#x: %w", i, s, ErrCorrupted)
		}
	}
	if h.elemSize == 0 || h.capacity == 0 {
		return fmt.Errorf("kring: element size %d, capacity %d: %w", h.elemSize, h.capacity, ErrCorrupted)
	}
	if h.capacity > uint64(regionLen-HeaderSize)/uint64(h.elemSize) {
		return fmt.Errorf("kring: capacity %d does not fit %d byte region: %w", h.capacity, regionLen, ErrCorrupted)
	}

	// readHead first: writeHead only grows, so the pair can't look inverted
	// because of the load order alone.
	r := h.readHead.Load()
	w := h.writeHead.Load()
	if r > w {
		return fmt.Errorf("kring: read head %d ahead of write head %d: %w", r, w, ErrCorrupted)
	}
	return nil
}

// Validate checks the header sentinels and the head invariants. It is meant
// for debugging: a failure means something wrote over the header.
func (q *Queue) Validate() error {
	if err := checkHeader(q.hdr, HeaderSize+len(q.data)); err != nil {
		return err
	}
	if int(q.hdr.elemSize) != q.elemSize || q.hdr.capacity != q.capacity {
		return fmt.Errorf("kring: header geometry changed under handle: %w", ErrCorrupted)
	}
	return nil
}

// Capacity returns the fixed queue capacity in elements.
func (q *Queue) Capacity() int {
	return int(q.capacity)
}

// ElemSize returns the element size in bytes fixed at creation.
func (q *Queue) ElemSize() int {
	return q.elemSize
}

// Len returns the number of elements currently queued.
//
// The value is a snapshot and may be stale by the time it is returned.
// Using it to size a following Enqueue or Dequeue is a race in the caller;
// those calls compute the real amount under the lock and may move less.
func (q *Queue) Len() int {
	r := q.hdr.readHead.Load()
	w := q.hdr.writeHead.Load()
	n := w - r
	if n > q.capacity {
		// the consumer advanced and the producer refilled between the loads
		n = q.capacity
	}
	return int(n)
}
