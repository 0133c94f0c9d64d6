package klog

import (
	"fmt"
	"sync/atomic"

	"github.com/aradilov/kring/internal/serial"
)

var std atomic.Pointer[Logger]

func init() {
	std.Store(New(serial.Discard))
}

// Default returns the package logger. Until SetDefault is called it
// discards its output; Panic still halts.
func Default() *Logger {
	return std.Load()
}

// SetDefault makes l the package logger.
func SetDefault(l *Logger) {
	std.Store(l)
}

// Logf writes a line on the default logger.
func Logf(format string, args ...any) {
	Default().output(2, fatalMask, func(b []byte) []byte { return fmt.Appendf(b, format, args...) })
}

// Panicf writes a line on the default logger and halts.
func Panicf(format string, args ...any) {
	Default().panic(3, fmt.Sprintf(format, args...))
}
