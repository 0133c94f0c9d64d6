// Package serial provides the byte-at-a-time output channel the kernel
// logger writes to.
package serial

import (
	"bufio"
	"io"
	"sync"
)

// Port is a serial transmitter. WriteByte sends one byte; a '\n' ends a
// line and lets buffered implementations flush.
type Port interface {
	WriteByte(c byte) error
}

// WriterPort sends bytes to an io.Writer, one line at a time.
type WriterPort struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriterPort returns a Port writing to w.
func NewWriterPort(w io.Writer) *WriterPort {
	return &WriterPort{w: bufio.NewWriter(w)}
}

func (p *WriterPort) WriteByte(c byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.w.WriteByte(c); err != nil {
		return err
	}
	if c == '\n' {
		return p.w.Flush()
	}
	return nil
}

// Flush pushes out a partial line.
func (p *WriterPort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Flush()
}

type discard struct{}

func (discard) WriteByte(byte) error { return nil }

// Discard is a Port that drops everything.
var Discard Port = discard{}
