package palloc

import (
	"errors"
	"math"
	"testing"
	"unsafe"
)

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func TestArenaAllocFree(t *testing.T) {
	a, err := NewArena(16)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	if usable, free := a.Stats(); usable != 16 || free != 16 {
		t.Fatalf("stats = %d usable, %d free", usable, free)
	}

	p1, err := a.Alloc(4)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if len(p1) != 4*PageSize {
		t.Fatalf("alloc of 4 pages returned %d bytes", len(p1))
	}
	if addr(p1)%PageSize != 0 {
		t.Fatalf("pages at %#x are not aligned", addr(p1))
	}

	p2, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if addr(p2) != addr(p1)+4*PageSize {
		t.Fatalf("first fit expected %#x, got %#x", addr(p1)+4*PageSize, addr(p2))
	}

	if err := a.Free(p1, 4); err != nil {
		t.Fatalf("free failed: %v", err)
	}
	p3, err := a.Alloc(3)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if addr(p3) != addr(p1) {
		t.Fatalf("freed run was not reused")
	}

	if _, free := a.Stats(); free != 16-2-3 {
		t.Fatalf("free = %d, want %d", free, 16-2-3)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("heap invalid: %v", err)
	}
}

func TestAllocZeroAndNegative(t *testing.T) {
	a, err := NewArena(1)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	p, err := a.Alloc(0)
	if err != nil || p == nil || len(p) != 0 {
		t.Fatalf("alloc(0) = %v, %v", p, err)
	}
	if _, err := a.Alloc(-1); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
	if err := a.Free(p, 0); err != nil {
		t.Fatalf("free of 0 pages: %v", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	a, err := NewArena(4)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	if _, err := a.Alloc(5); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	// fragmentation: 2 pages free but not adjacent
	p0, _ := a.Alloc(1)
	a.Alloc(1)
	p2, _ := a.Alloc(1)
	a.Alloc(1)
	a.Free(p0, 1)
	a.Free(p2, 1)
	if _, err := a.Alloc(2); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory for a fragmented heap, got %v", err)
	}
}

func TestBadFree(t *testing.T) {
	a, err := NewArena(4)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	p, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}

	tests := []struct {
		name   string
		region []byte
		count  int
	}{
		{"foreign", make([]byte, PageSize), 1},
		{"unaligned", p[1:], 1},
		{"too many pages", p, 3},
		{"past the end", p, 5},
		{"empty", nil, 1},
		{"region shorter than count", p[:PageSize], 2},
		{"tail of a run", p[PageSize:], 1},
		{"head of a run", p[:PageSize], 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.Free(tt.region, tt.count); !errors.Is(err, ErrBadFree) {
				t.Fatalf("expected ErrBadFree, got %v", err)
			}
		})
	}

	if err := a.Free(p, 2); err != nil {
		t.Fatalf("free failed: %v", err)
	}
	if err := a.Free(p, 2); !errors.Is(err, ErrBadFree) {
		t.Fatalf("double free: expected ErrBadFree, got %v", err)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("heap invalid: %v", err)
	}
}

func TestZeroedPages(t *testing.T) {
	a, err := NewArena(2)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	p, _ := a.Alloc(2)
	for i := range p {
		p[i] = 0xff
	}
	a.Free(p, 2)

	z, err := a.ZeroedPages(2)
	if err != nil {
		t.Fatalf("zeroed pages failed: %v", err)
	}
	for i, b := range z {
		if b != 0 {
			t.Fatalf("byte %d = %#x", i, b)
		}
	}
}

func TestMemoryMap(t *testing.T) {
	arena, err := NewArena(8)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	mem := arena.mem

	mmap := []Entry{
		NewEntry(0, PageSize, Used),
		NewEntry(PageSize+16, 3*PageSize, Free), // rounds to pages 2 and 3
		NewEntry(5*PageSize, PageSize, MMIO),
		NewEntry(6*PageSize, 2*PageSize, Free),
	}
	a, err := New(mem, mmap)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if usable, _ := a.Stats(); usable != 4 {
		t.Fatalf("usable = %d, want 4", usable)
	}

	p, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if addr(p) != addr(mem)+2*PageSize {
		t.Fatalf("allocated at page %d", (addr(p)-addr(mem))/PageSize)
	}
	if _, err := a.Alloc(3); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("heap invalid: %v", err)
	}
}

func TestMemoryMapClampsEntries(t *testing.T) {
	arena, err := NewArena(4)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	mem := arena.mem

	mmap := []Entry{
		// rounding up and adding the size both wrap past 2^64
		NewEntry(math.MaxUint64-99, 2*PageSize, Free),
		NewEntry(4*PageSize, PageSize, Free),
		// runs off the end of mem
		NewEntry(3*PageSize, 8*PageSize, Free),
	}
	a, err := New(mem, mmap)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if usable, _ := a.Stats(); usable != 1 {
		t.Fatalf("usable = %d, want 1", usable)
	}
	p, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if addr(p) != addr(mem)+3*PageSize {
		t.Fatalf("allocated at page %d, want 3", (addr(p)-addr(mem))/PageSize)
	}
}

func TestNewMisaligned(t *testing.T) {
	arena, err := NewArena(2)
	if err != nil {
		t.Fatalf("arena failed: %v", err)
	}
	if _, err := New(arena.mem[8:], nil); !errors.Is(err, ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
}

func TestEntryEncoding(t *testing.T) {
	e := NewEntry(0x100000, 0x7ff000, MMIO)
	if e.Type() != MMIO || e.Bytes() != 0x7ff000 {
		t.Fatalf("decoded %s", e)
	}
	if e.String() != "0x100000+0x7ff000 mmio" {
		t.Fatalf("string = %q", e.String())
	}
}
