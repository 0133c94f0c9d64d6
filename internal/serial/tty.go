package serial

import (
	"fmt"

	tty "github.com/mattn/go-tty"
)

// TTYPort is a Port on a terminal device, such as the host end of a
// virtual machine's serial line.
type TTYPort struct {
	*WriterPort
	dev *tty.TTY
}

// OpenTTY opens the terminal device at path for output.
func OpenTTY(path string) (*TTYPort, error) {
	dev, err := tty.OpenDevice(path)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}
	return &TTYPort{
		WriterPort: NewWriterPort(dev.Output()),
		dev:        dev,
	}, nil
}

// Close flushes pending output and releases the device.
func (p *TTYPort) Close() error {
	ferr := p.Flush()
	if err := p.dev.Close(); err != nil {
		return err
	}
	return ferr
}
