// Package descriptor builds the global descriptor table and the interrupt
// descriptor table, installs the double fault handler and hands both tables
// to the CPU.
package descriptor

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/aradilov/kring/internal/klog"
)

// ExceptionStackFrame is what the CPU pushes before entering a handler.
type ExceptionStackFrame struct {
	InstructionPointer uint64
	CodeSegment        uint64
	CPUFlags           uint64
	StackPointer       uint64
	StackSegment       uint64
}

func (f *ExceptionStackFrame) String() string {
	return fmt.Sprintf("ExceptionStackFrame{ip=%#x,cs=%#x,flags=%#x,sp=%#x,ss=%#x}",
		f.InstructionPointer, f.CodeSegment, f.CPUFlags, f.StackPointer, f.StackSegment)
}

// HandlerFunc handles an exception. errorCode is zero for vectors that
// don't push one.
type HandlerFunc func(frame *ExceptionStackFrame, errorCode uint64)

// CPU is the part of the processor descriptor setup talks to.
type CPU interface {
	// LoadGDT installs table and reloads CS with code.
	LoadGDT(table []byte, limit uint16, code Selector)
	// LoadIDT installs table.
	LoadIDT(table []byte, limit uint16)
	// CodeSegment returns the selector currently in CS.
	CodeSegment() Selector
}

// PageAllocator supplies zeroed pages for the tables.
type PageAllocator interface {
	ZeroedPages(count int) ([]byte, error)
	Free(region []byte, count int) error
}

// ErrBadVector is returned by Install for a vector outside the IDT.
var ErrBadVector = errors.New("descriptor: vector outside the IDT")

// RecordingCPU is a CPU that remembers what was loaded into it.
type RecordingCPU struct {
	mu       sync.Mutex
	gdt      []byte
	gdtLimit uint16
	idt      []byte
	idtLimit uint16
	cs       Selector
}

func (c *RecordingCPU) LoadGDT(table []byte, limit uint16, code Selector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gdt, c.gdtLimit, c.cs = table, limit, code
}

func (c *RecordingCPU) LoadIDT(table []byte, limit uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idt, c.idtLimit = table, limit
}

func (c *RecordingCPU) CodeSegment() Selector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cs
}

// GDTR returns the loaded GDT and its limit.
func (c *RecordingCPU) GDTR() ([]byte, uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gdt, c.gdtLimit
}

// IDTR returns the loaded IDT and its limit.
func (c *RecordingCPU) IDTR() ([]byte, uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idt, c.idtLimit
}

// Tables holds the loaded descriptor tables.
type Tables struct {
	GDT      *GDT
	IDT      *IDT
	Code     Selector
	gdtPage  []byte
	idtPage  []byte
	cpu      CPU
	log      *klog.Logger
	mu       sync.Mutex
	handlers map[int]HandlerFunc
}

// Init builds both tables in freshly allocated pages and loads them. A nil
// doubleFault installs a handler that logs the frame and halts. On failure
// nothing is loaded and no pages are kept.
func Init(alloc PageAllocator, cpu CPU, log *klog.Logger, doubleFault HandlerFunc) (*Tables, error) {
	gdtPage, err := alloc.ZeroedPages(1)
	if err != nil {
		return nil, fmt.Errorf("descriptor: gdt page: %w", err)
	}
	idtPage, err := alloc.ZeroedPages(1)
	if err != nil {
		if ferr := alloc.Free(gdtPage, 1); ferr != nil {
			return nil, errors.Join(fmt.Errorf("descriptor: idt page: %w", err), ferr)
		}
		return nil, fmt.Errorf("descriptor: idt page: %w", err)
	}

	gdt := NewGDT()
	code, _ := gdt.AddEntry(KernelCode) // a new table has room
	n := gdt.Encode(gdtPage)
	cpu.LoadGDT(gdtPage[:n], gdt.Limit(), code)

	log.Logf("global descriptor table INIT_COMPLETE")

	t := &Tables{
		GDT:      gdt,
		IDT:      NewIDT(),
		Code:     code,
		gdtPage:  gdtPage,
		idtPage:  idtPage,
		cpu:      cpu,
		log:      log,
		handlers: make(map[int]HandlerFunc),
	}
	if doubleFault == nil {
		doubleFault = t.haltOnDoubleFault
	}
	_ = t.Install(DoubleFault, doubleFault)
	cpu.LoadIDT(idtPage[:IDTEntries*IDTEntrySize], t.IDT.Limit())

	log.Logf("interrupt descriptor table INIT_COMPLETE")
	log.Logf("descriptor INIT_COMPLETE")
	return t, nil
}

// Install sets the handler for vector and rewrites the table in place, so
// the change is visible through the loaded IDT.
func (t *Tables) Install(vector int, fn HandlerFunc) error {
	if vector < 0 || vector >= IDTEntries {
		return fmt.Errorf("descriptor: install vector %d: %w", vector, ErrBadVector)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[vector] = fn
	t.IDT[vector].SetHandler(uint64(reflect.ValueOf(fn).Pointer()), t.cpu.CodeSegment())
	t.IDT.Encode(t.idtPage)
	return nil
}

// Raise delivers an exception the way the CPU would: a vector outside the
// table or without a present gate escalates to a double fault, and a missing
// double fault gate is a triple fault, which halts.
func (t *Tables) Raise(vector int, frame *ExceptionStackFrame, errorCode uint64) {
	if vector < 0 || vector >= IDTEntries {
		t.log.Debugf("vector %d is outside the IDT", vector)
		t.Raise(DoubleFault, frame, 0)
		return
	}

	t.mu.Lock()
	fn, ok := t.handlers[vector]
	present := t.IDT[vector].Present()
	t.mu.Unlock()

	switch {
	case ok && present:
		fn(frame, errorCode)
	case vector == DoubleFault:
		t.log.Panicf("triple fault at %s", frame)
	default:
		t.log.Debugf("vector %d has no handler", vector)
		t.Raise(DoubleFault, frame, 0)
	}
}

func (t *Tables) haltOnDoubleFault(frame *ExceptionStackFrame, errorCode uint64) {
	t.log.Logf("double fault error_code: %d", errorCode)
	t.log.Logf("%s", frame)
	t.log.Panic("double fault")
}
