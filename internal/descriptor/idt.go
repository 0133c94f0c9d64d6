package descriptor

import "encoding/binary"

const (
	// IDTEntries is the number of interrupt vectors.
	IDTEntries = 256
	// IDTEntrySize is the size of one gate descriptor in bytes.
	IDTEntrySize = 16

	// DoubleFault is the double fault exception vector.
	DoubleFault = 8

	missingOptions uint16 = 0xe00 // 64-bit interrupt gate, IRQs disabled, not present
	presentBit     uint16 = 1 << 15
)

// Gate is one interrupt descriptor table entry.
type Gate struct {
	PointerLow    uint16
	Selector      Selector
	Options       uint16
	PointerMiddle uint16
	PointerHigh   uint32
	Reserved      uint32
}

// Missing returns a gate with no handler.
func Missing() Gate {
	return Gate{Options: missingOptions}
}

// SetHandler points the gate at addr in code segment sel and marks it
// present.
func (g *Gate) SetHandler(addr uint64, sel Selector) {
	g.PointerLow = uint16(addr)
	g.PointerMiddle = uint16(addr >> 16)
	g.PointerHigh = uint32(addr >> 32)
	g.Selector = sel
	g.Options |= presentBit
}

// HandlerAddr reassembles the handler address.
func (g Gate) HandlerAddr() uint64 {
	return uint64(g.PointerLow) | uint64(g.PointerMiddle)<<16 | uint64(g.PointerHigh)<<32
}

// Present reports whether the gate has a handler.
func (g Gate) Present() bool {
	return g.Options&presentBit != 0
}

// IDT is an interrupt descriptor table.
type IDT [IDTEntries]Gate

// NewIDT returns a table with every gate missing.
func NewIDT() *IDT {
	var t IDT
	for i := range t {
		t[i] = Missing()
	}
	return &t
}

// Limit is the value loaded into the IDTR limit field.
func (t *IDT) Limit() uint16 { return IDTEntries*IDTEntrySize - 1 }

// Encode writes the table in memory layout into dst, which must hold
// IDTEntries*IDTEntrySize bytes.
func (t *IDT) Encode(dst []byte) int {
	for i, g := range t {
		b := dst[i*IDTEntrySize : (i+1)*IDTEntrySize]
		binary.LittleEndian.PutUint16(b[0:], g.PointerLow)
		binary.LittleEndian.PutUint16(b[2:], uint16(g.Selector))
		binary.LittleEndian.PutUint16(b[4:], g.Options)
		binary.LittleEndian.PutUint16(b[6:], g.PointerMiddle)
		binary.LittleEndian.PutUint32(b[8:], g.PointerHigh)
		binary.LittleEndian.PutUint32(b[12:], g.Reserved)
	}
	return IDTEntries * IDTEntrySize
}
