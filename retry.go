package kring

import (
	"context"
	"runtime"
	"time"

	"github.com/valyala/fastrand"
)

// The helpers in this file are for hosted callers that may wait, such as a
// main loop or a test. Interrupt handlers call Enqueue and Dequeue directly
// and deal with short transfers themselves.

const (
	goschedEvery = 64   // reduce runtime.Gosched() frequency in hot loops
	spinLimit    = 1024 // spins before falling back to sleeping

	minBackoff = 10 * time.Microsecond
	maxBackoff = 5 * time.Millisecond
)

type backoff struct {
	spins uint32
	delay time.Duration
}

func (b *backoff) reset() {
	b.spins = 0
	b.delay = 0
}

// wait pauses after a call that made no progress. It spins first, yielding
// every goschedEvery rounds, then sleeps for a jittered, doubling delay.
func (b *backoff) wait(ctx context.Context) error {
	b.spins++
	if b.spins < spinLimit {
		if b.spins%goschedEvery == 0 {
			runtime.Gosched()
		}
		return ctx.Err()
	}

	if b.delay == 0 {
		b.delay = minBackoff
	}
	d := b.delay/2 + time.Duration(fastrand.Uint32n(uint32(b.delay/2)+1))
	b.delay = min(2*b.delay, maxBackoff)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EnqueueAll writes every element of src, retrying short writes and
// ErrLockBusy until done or ctx is cancelled. It returns the number of
// elements written; on cancellation that count is partial and the error is
// ctx.Err(). Contract violations are returned immediately.
func EnqueueAll(ctx context.Context, q *Queue, src []byte, elemSize int) (int, error) {
	return transferAll(ctx, src, elemSize, q.Enqueue)
}

// DequeueFull fills dst completely, retrying as EnqueueAll does.
func DequeueFull(ctx context.Context, q *Queue, dst []byte, elemSize int) (int, error) {
	return transferAll(ctx, dst, elemSize, q.Dequeue)
}

func transferAll(ctx context.Context, buf []byte, elemSize int, op func([]byte, int) (int, error)) (int, error) {
	var (
		b    backoff
		done int
	)
	for {
		n, err := op(buf[done*elemSize:], elemSize)
		if err != nil && err != ErrLockBusy {
			return done, err
		}
		done += n
		if done*elemSize == len(buf) {
			return done, nil
		}

		if n > 0 {
			b.reset()
			continue
		}
		if err := b.wait(ctx); err != nil {
			return done, err
		}
	}
}
