package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Segment descriptor bits.
const (
	Accessed    uint64 = 1 << 40
	Writable    uint64 = 1 << 41
	Conforming  uint64 = 1 << 42
	Executable  uint64 = 1 << 43
	UserSegment uint64 = 1 << 44
	DPLRing3    uint64 = 3 << 45
	Present     uint64 = 1 << 47
	Available   uint64 = 1 << 52
	LongMode    uint64 = 1 << 53
	DefaultSize uint64 = 1 << 54
	Granularity uint64 = 1 << 55
	Limit0_15   uint64 = 0xffff
	Limit16_19  uint64 = 0xf << 48
	Base0_23    uint64 = 0xffffff << 16
	Base24_31   uint64 = 0xff << 56

	common = UserSegment | Accessed | Present | Writable | Limit0_15 | Limit16_19 | Granularity

	// KernelCode is a 64-bit ring 0 code segment.
	KernelCode = common | Executable | LongMode
	// UserCode is KernelCode at ring 3.
	UserCode = KernelCode | DPLRing3
)

// GDTEntries is the number of slots in a GDT, including the null entry.
const GDTEntries = 8

// ErrGDTFull is returned by AddEntry when all slots are used.
var ErrGDTFull = errors.New("descriptor: GDT full")

// Selector is a segment selector: table index << 3 | requested privilege level.
type Selector uint16

// Index returns the descriptor table index.
func (s Selector) Index() int { return int(s >> 3) }

// RPL returns the requested privilege level.
func (s Selector) RPL() int { return int(s & 3) }

func (s Selector) String() string {
	return fmt.Sprintf("%#x(index=%d,rpl=%d)", uint16(s), s.Index(), s.RPL())
}

// GDT is a global descriptor table under construction.
type GDT struct {
	table [GDTEntries]uint64
	index int
}

// NewGDT returns a table holding only the null descriptor.
func NewGDT() *GDT {
	return &GDT{index: 1}
}

// AddEntry appends a segment descriptor and returns its selector. The RPL
// follows the descriptor's privilege level.
func (g *GDT) AddEntry(entry uint64) (Selector, error) {
	if g.index >= GDTEntries {
		return 0, ErrGDTFull
	}
	i := g.index
	g.table[i] = entry
	g.index++

	rpl := 0
	if entry&DPLRing3 != 0 {
		rpl = 3
	}
	return Selector(i<<3 | rpl), nil
}

// Len returns the number of descriptors, including the null entry.
func (g *GDT) Len() int { return g.index }

// Entry returns descriptor i.
func (g *GDT) Entry(i int) uint64 { return g.table[i] }

// Limit is the value loaded into the GDTR limit field.
func (g *GDT) Limit() uint16 { return uint16(g.index*8 - 1) }

// Encode writes the table in memory layout into dst and returns the number
// of bytes written.
func (g *GDT) Encode(dst []byte) int {
	for i := 0; i < g.index; i++ {
		binary.LittleEndian.PutUint64(dst[i*8:], g.table[i])
	}
	return g.index * 8
}
