// Package klog is the kernel's diagnostic logger. Every message becomes one
// fixed-size line of the form "[file:line]: message" sent byte by byte to a
// serial port. Panic writes its message and then halts.
package klog

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/aradilov/kring/internal/serial"
)

// LineSize is the size of the line buffer, excluding the trailing newline.
const LineSize = 200

const (
	tooLongPrefix = "[source location too long]: "
	ellipsis      = "..."
)

// Halt describes why the logger stopped the machine.
type Halt struct {
	Location string
	Message  string
}

func (h *Halt) Error() string {
	return "klog: halted at " + h.Location + ": " + h.Message
}

// Logger writes diagnostic lines to a serial port. It is safe for use from
// several goroutines; lines are never interleaved.
type Logger struct {
	mu      sync.Mutex
	port    serial.Port
	level   MaskLevel
	halt    func(*Halt)
	line    [LineSize]byte
	scratch []byte
}

// Option configures a Logger.
type Option func(*Logger)

// WithLevel sets the mask of leveled messages to print.
func WithLevel(m MaskLevel) Option {
	return func(l *Logger) {
		l.level = m
	}
}

// WithHalt replaces the halt routine. fn must not return; if it does the
// logger panics with the *Halt.
func WithHalt(fn func(*Halt)) Option {
	return func(l *Logger) {
		l.halt = fn
	}
}

// New returns a Logger writing to port.
func New(port serial.Port, opts ...Option) *Logger {
	l := &Logger{
		port:  port,
		level: DefaultLevel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLevel sets the mask and returns the previous one.
func (l *Logger) SetLevel(m MaskLevel) MaskLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.level
	l.level = m
	return prev
}

// Level returns the current mask.
func (l *Logger) Level() MaskLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Log writes its operands formatted as by fmt.Sprint.
func (l *Logger) Log(args ...any) {
	l.output(2, fatalMask, func(b []byte) []byte { return fmt.Append(b, args...) })
}

// Logf writes a formatted line regardless of the level mask.
func (l *Logger) Logf(format string, args ...any) {
	l.output(2, fatalMask, func(b []byte) []byte { return fmt.Appendf(b, format, args...) })
}

func (l *Logger) Errorf(format string, args ...any) { l.leveled(ErrorMask, format, args) }
func (l *Logger) Warnf(format string, args ...any)  { l.leveled(WarnMask, format, args) }
func (l *Logger) Infof(format string, args ...any)  { l.leveled(InfoMask, format, args) }
func (l *Logger) Debugf(format string, args ...any) { l.leveled(DebugMask, format, args) }
func (l *Logger) Statsf(format string, args ...any) { l.leveled(StatsMask, format, args) }

func (l *Logger) leveled(m MaskLevel, format string, args []any) {
	l.output(3, m, func(b []byte) []byte {
		b = append(b, m.tag()...)
		return fmt.Appendf(b, format, args...)
	})
}

// Panic writes msg and halts. It does not return.
func (l *Logger) Panic(msg string) {
	l.panic(3, msg)
}

// Panicf is Panic with a formatted message.
func (l *Logger) Panicf(format string, args ...any) {
	l.panic(3, fmt.Sprintf(format, args...))
}

// Fatal halts with err as the message. It matches the signature of the
// kring violation handler.
func (l *Logger) Fatal(err error) {
	l.panic(3, err.Error())
}

func (l *Logger) panic(depth int, msg string) {
	loc := location(depth)
	l.emit(loc, fatalMask, func(b []byte) []byte { return append(b, msg...) })

	h := &Halt{Location: loc, Message: msg}
	if l.halt != nil {
		l.halt(h)
	}
	panic(h)
}

func (l *Logger) output(depth int, m MaskLevel, format func([]byte) []byte) {
	loc := location(depth + 1)
	l.emit(loc, m, format)
}

func (l *Logger) emit(loc string, m MaskLevel, format func([]byte) []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m != fatalMask && l.level&m == 0 {
		return
	}

	n := l.prefix(loc)
	l.scratch = format(l.scratch[:0])
	if n+len(l.scratch) > LineSize {
		n += copy(l.line[n:LineSize-len(ellipsis)], l.scratch)
		n += copy(l.line[n:], ellipsis)
	} else {
		n += copy(l.line[n:], l.scratch)
	}

	// a serial port has nowhere to report its own failures
	for _, c := range l.line[:n] {
		_ = l.port.WriteByte(c)
	}
	_ = l.port.WriteByte('\n')
}

// prefix writes "[loc]: " into the line buffer and returns its length.
func (l *Logger) prefix(loc string) int {
	if len(loc)+len("[]: ")+len(ellipsis) > LineSize {
		return copy(l.line[:], tooLongPrefix)
	}
	n := copy(l.line[:], "[")
	n += copy(l.line[n:], loc)
	n += copy(l.line[n:], "]: ")
	return n
}

func location(depth int) string {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "???:0"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
