package palloc

import "fmt"

// EntryType classifies a memory map entry.
type EntryType uint8

const (
	Used EntryType = iota
	Free
	ACPI
	MMIO
)

func (t EntryType) String() string {
	switch t {
	case Used:
		return "used"
	case Free:
		return "free"
	case ACPI:
		return "acpi"
	case MMIO:
		return "mmio"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Entry is one boot memory map record. As in the BOOTBOOT protocol the low
// four bits of Size carry the entry type; sizes are multiples of 16.
type Entry struct {
	Ptr  uint64
	Size uint64
}

// NewEntry encodes a region of size bytes at ptr.
func NewEntry(ptr, size uint64, t EntryType) Entry {
	return Entry{Ptr: ptr, Size: size&^0xf | uint64(t)&0xf}
}

// Type returns the entry type.
func (e Entry) Type() EntryType {
	return EntryType(e.Size & 0xf)
}

// Bytes returns the region length.
func (e Entry) Bytes() uint64 {
	return e.Size &^ 0xf
}

func (e Entry) String() string {
	return fmt.Sprintf("%#x+%#x %s", e.Ptr, e.Bytes(), e.Type())
}
