package boot

import (
	"errors"
	"fmt"
	"time"

	"github.com/aradilov/kring"
	"github.com/aradilov/kring/internal/palloc"
)

// descriptorPages is what descriptor.Init takes from the allocator.
const descriptorPages = 2

// Config sizes a bring-up run.
type Config struct {
	Pages        int           // pages in the physical memory arena
	QueuePages   int           // pages carved out for the queue
	ElemSize     int           // bytes per queue element, at least RecordSize
	Ticks        int           // timer interrupts to deliver; 0 runs until cancelled
	TickInterval time.Duration // time between timer interrupts
	LockRetries  int           // try-lock attempts per queue operation
}

// DefaultConfig returns the configuration used by cmd/kring.
func DefaultConfig() Config {
	return Config{
		Pages:        16,
		QueuePages:   1,
		ElemSize:     RecordSize,
		Ticks:        100,
		TickInterval: time.Millisecond,
		LockRetries:  kring.LockRetries,
	}
}

// ErrConfig is wrapped by every Validate failure.
var ErrConfig = errors.New("boot: invalid config")

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch {
	case c.QueuePages < 1:
		return fmt.Errorf("%w: queue pages %d < 1", ErrConfig, c.QueuePages)
	case c.Pages < c.QueuePages+descriptorPages:
		return fmt.Errorf("%w: %d pages can't hold a %d page queue and the descriptor tables",
			ErrConfig, c.Pages, c.QueuePages)
	case c.ElemSize < RecordSize:
		return fmt.Errorf("%w: element size %d < record size %d", ErrConfig, c.ElemSize, RecordSize)
	case c.QueuePages*palloc.PageSize-kring.HeaderSize < c.ElemSize:
		return fmt.Errorf("%w: element size %d does not fit in %d queue pages", ErrConfig, c.ElemSize, c.QueuePages)
	case c.Ticks < 0:
		return fmt.Errorf("%w: ticks %d < 0", ErrConfig, c.Ticks)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval %s", ErrConfig, c.TickInterval)
	case c.LockRetries < 1 || c.LockRetries > kring.MaxLockRetries:
		return fmt.Errorf("%w: lock retries %d outside [1, %d]", ErrConfig, c.LockRetries, kring.MaxLockRetries)
	}
	return nil
}
