// Package palloc hands out whole 4KB pages of physical memory described by
// the boot memory map. Runs of pages are allocated first fit and tracked in
// a bitmap; Free must be given the same address and page count Alloc
// returned.
package palloc

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// PageSize is the allocation granule.
const PageSize = 4096

var (
	ErrOutOfMemory  = errors.New("palloc: out of memory")
	ErrInvalidCount = errors.New("palloc: invalid page count")
	ErrBadFree      = errors.New("palloc: bad free")
	ErrMisaligned   = errors.New("palloc: memory not page aligned")
	ErrCorrupted    = errors.New("palloc: heap corrupted")
)

// Allocator is a page allocator over a block of memory. Pages never handed
// out by the memory map (used, ACPI, MMIO) are permanently reserved.
type Allocator struct {
	mu sync.Mutex
	_  cpu.CacheLinePad

	mem      []byte
	base     uintptr
	used     []uint64    // one bit per page, set while allocated or reserved
	reserved []uint64    // one bit per page never available
	runs     map[int]int // first page -> page count of each live allocation
	free     int
	usable   int
}

// New builds an allocator over mem. Entry addresses are offsets into mem;
// only whole pages inside Free entries become allocatable. mem must start on
// a page boundary.
func New(mem []byte, mmap []Entry) (*Allocator, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("palloc: empty memory: %w", ErrOutOfMemory)
	}
	base := uintptr(unsafe.Pointer(&mem[0]))
	if base%PageSize != 0 {
		return nil, fmt.Errorf("palloc: base %#x: %w", base, ErrMisaligned)
	}

	pages := len(mem) / PageSize
	words := (pages + 63) / 64
	a := &Allocator{
		mem:      mem[: pages*PageSize : pages*PageSize],
		base:     base,
		used:     make([]uint64, words),
		reserved: make([]uint64, words),
		runs:     make(map[int]int),
	}

	// everything starts reserved; free entries punch holes
	for i := 0; i < pages; i++ {
		a.reserved[i/64] |= 1 << (i % 64)
	}
	size := uint64(len(a.mem))
	for _, e := range mmap {
		if e.Type() != Free || e.Ptr >= size {
			continue
		}
		end := e.Ptr + e.Bytes()
		if end < e.Ptr || end > size {
			end = size
		}
		first := int((e.Ptr + PageSize - 1) / PageSize)
		last := int(end / PageSize)
		for i := first; i < last; i++ {
			a.reserved[i/64] &^= 1 << (i % 64)
		}
	}
	copy(a.used, a.reserved)

	for i := 0; i < pages; i++ {
		if !a.bit(a.used, i) {
			a.usable++
		}
	}
	a.free = a.usable
	return a, nil
}

// NewArena allocates a page-aligned block of the given number of pages
// from the Go heap and returns an allocator over all of it.
func NewArena(pages int) (*Allocator, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("palloc: arena of %d pages: %w", pages, ErrInvalidCount)
	}
	buf := make([]byte, (pages+1)*PageSize)
	off := int(uintptr(unsafe.Pointer(&buf[0])) % PageSize)
	if off != 0 {
		off = PageSize - off
	}
	mem := buf[off : off+pages*PageSize]
	return New(mem, []Entry{NewEntry(0, uint64(len(mem)), Free)})
}

// Alloc returns count contiguous pages. A zero count yields an empty,
// non-nil region.
func (a *Allocator) Alloc(count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("palloc: alloc %d pages: %w", count, ErrInvalidCount)
	}
	if count == 0 {
		return []byte{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if count > a.free {
		return nil, fmt.Errorf("palloc: alloc %d pages, %d free: %w", count, a.free, ErrOutOfMemory)
	}

	pages := len(a.mem) / PageSize
	run := 0
	for i := 0; i < pages; i++ {
		if a.bit(a.used, i) {
			run = 0
			continue
		}
		run++
		if run == count {
			first := i - count + 1
			for p := first; p <= i; p++ {
				a.used[p/64] |= 1 << (p % 64)
			}
			a.free -= count
			a.runs[first] = count
			start := first * PageSize
			end := start + count*PageSize
			return a.mem[start:end:end], nil
		}
	}
	return nil, fmt.Errorf("palloc: no run of %d pages: %w", count, ErrOutOfMemory)
}

// ZeroedPages is Alloc followed by clearing the pages.
func (a *Allocator) ZeroedPages(count int) ([]byte, error) {
	p, err := a.Alloc(count)
	if err != nil {
		return nil, err
	}
	clear(p)
	return p, nil
}

// Free returns count pages starting at the base of region. region and count
// must describe exactly one run returned by Alloc.
func (a *Allocator) Free(region []byte, count int) error {
	if count < 0 {
		return fmt.Errorf("palloc: free %d pages: %w", count, ErrInvalidCount)
	}
	if count == 0 {
		return nil
	}
	if len(region) < count*PageSize {
		return fmt.Errorf("palloc: free of %d pages from a %d byte region: %w", count, len(region), ErrBadFree)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	addr := uintptr(unsafe.Pointer(&region[0]))
	if addr < a.base || addr >= a.base+uintptr(len(a.mem)) || (addr-a.base)%PageSize != 0 {
		return fmt.Errorf("palloc: free of %#x outside the heap: %w", addr, ErrBadFree)
	}
	first := int(addr-a.base) / PageSize
	if first+count > len(a.mem)/PageSize {
		return fmt.Errorf("palloc: free of %d pages at page %d runs past the heap: %w", count, first, ErrBadFree)
	}

	for p := first; p < first+count; p++ {
		if !a.bit(a.used, p) || a.bit(a.reserved, p) {
			return fmt.Errorf("palloc: page %d is not allocated: %w", p, ErrBadFree)
		}
	}
	if n, ok := a.runs[first]; !ok || n != count {
		return fmt.Errorf("palloc: page %d does not start a %d page allocation: %w", first, count, ErrBadFree)
	}
	delete(a.runs, first)
	for p := first; p < first+count; p++ {
		a.used[p/64] &^= 1 << (p % 64)
	}
	a.free += count
	return nil
}

// Validate checks that the bitmap agrees with the free page count and the
// live allocations, and that no reserved page is marked free.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pages := len(a.mem) / PageSize
	set := 0
	for i, w := range a.used {
		if a.reserved[i]&^w != 0 {
			return fmt.Errorf("palloc: reserved page in word %d marked free: %w", i, ErrCorrupted)
		}
		set += bits.OnesCount64(w)
	}
	if pages-set != a.free {
		return fmt.Errorf("palloc: %d pages free in bitmap, counter says %d: %w", pages-set, a.free, ErrCorrupted)
	}
	allocated := 0
	for _, n := range a.runs {
		allocated += n
	}
	if allocated != a.usable-a.free {
		return fmt.Errorf("palloc: %d pages in live allocations, %d in use: %w", allocated, a.usable-a.free, ErrCorrupted)
	}
	return nil
}

// Stats reports the number of usable and currently free pages.
func (a *Allocator) Stats() (usable, free int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usable, a.free
}

func (a *Allocator) bit(set []uint64, i int) bool {
	return set[i/64]&(1<<(i%64)) != 0
}
