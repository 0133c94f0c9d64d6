// Package boot runs the kernel bring-up sequence on the host: it sets up
// physical memory, loads the descriptor tables, carves the interrupt queue
// out of allocated pages and then moves timer records from the interrupt
// context to the main loop until the run is over.
package boot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fastrand"

	"github.com/aradilov/kring"
	"github.com/aradilov/kring/internal/descriptor"
	"github.com/aradilov/kring/internal/klog"
	"github.com/aradilov/kring/internal/palloc"
)

const (
	// TimerVector is the interrupt vector of the timer.
	TimerVector = 32

	// RecordSize is the encoded size of a Record.
	RecordSize = 16

	maxBurst   = 3 // records pushed by one timer interrupt
	drainBatch = 8 // records popped per main loop iteration
)

// Record is one timer event passed from the interrupt handler to the main
// loop.
type Record struct {
	Seq   uint64 // counts from 1 across the whole run
	Nanos int64  // time since the queue came up
}

func (r Record) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], r.Seq)
	binary.LittleEndian.PutUint64(b[8:], uint64(r.Nanos))
}

func decodeRecord(b []byte) Record {
	return Record{
		Seq:   binary.LittleEndian.Uint64(b[0:]),
		Nanos: int64(binary.LittleEndian.Uint64(b[8:])),
	}
}

// Report summarizes a run.
type Report struct {
	Interrupts uint64 // timer interrupts delivered
	Produced   uint64 // records the handler got into the queue
	Dropped    uint64 // records lost to a full queue or a busy lock
	Consumed   uint64 // records the main loop took out
	LastSeq    uint64

	Producer kring.Stats // interrupt side handle
	Consumer kring.Stats // main loop handle
}

// Kernel is one bring-up run.
type Kernel struct {
	cfg Config
	log *klog.Logger
	cpu descriptor.CPU
}

// New validates cfg and returns a Kernel that logs to log and loads its
// descriptor tables into cpu.
func New(cfg Config, log *klog.Logger, cpu descriptor.CPU) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Kernel{cfg: cfg, log: log, cpu: cpu}, nil
}

// Run performs the bring-up and moves records until Ticks interrupts have
// been delivered and drained, or ctx is done. In the second case the
// returned error is ctx.Err() and the report covers what was moved so far.
func (k *Kernel) Run(ctx context.Context) (Report, error) {
	var rep Report

	alloc, err := palloc.NewArena(k.cfg.Pages)
	if err != nil {
		return rep, err
	}
	usable, _ := alloc.Stats()
	k.log.Logf("palloc INIT_COMPLETE (%d pages)", usable)

	tables, err := descriptor.Init(alloc, k.cpu, k.log, nil)
	if err != nil {
		return rep, err
	}

	region, err := alloc.ZeroedPages(k.cfg.QueuePages)
	if err != nil {
		return rep, fmt.Errorf("boot: queue pages: %w", err)
	}
	opts := []kring.Option{
		kring.WithLockRetries(k.cfg.LockRetries),
		kring.WithViolationHandler(k.log.Fatal),
	}
	q, err := kring.Create(region, k.cfg.ElemSize, opts...)
	if err != nil {
		return rep, err
	}
	irq, err := kring.Attach(region, k.cfg.ElemSize, opts...)
	if err != nil {
		return rep, err
	}
	k.log.Logf("kring INIT_COMPLETE (capacity %d, element %d bytes)", q.Capacity(), q.ElemSize())

	t := &timer{
		q:        irq,
		elemSize: k.cfg.ElemSize,
		buf:      make([]byte, maxBurst*k.cfg.ElemSize),
		start:    time.Now(),
	}
	if err := tables.Install(TimerVector, t.interrupt); err != nil {
		return rep, err
	}

	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.tick(tctx, tables)
	}()

	err = k.drain(ctx, q, done, &rep)
	cancel()
	<-done

	rep.Interrupts, rep.Produced, rep.Dropped = t.interrupts, t.produced, t.dropped
	rep.Producer, rep.Consumer = irq.Stats(), q.Stats()
	k.log.Statsf("interrupts=%d produced=%d dropped=%d consumed=%d",
		rep.Interrupts, rep.Produced, rep.Dropped, rep.Consumed)
	k.log.Statsf("enqueue calls=%d busy=%d full=%d",
		rep.Producer.EnqueueCalls, rep.Producer.EnqueueLockBusy, rep.Producer.EnqueueFull)
	k.log.Statsf("dequeue calls=%d busy=%d empty=%d",
		rep.Consumer.DequeueCalls, rep.Consumer.DequeueLockBusy, rep.Consumer.DequeueEmpty)

	if ferr := alloc.Free(region, k.cfg.QueuePages); ferr != nil {
		return rep, ferr
	}
	if verr := alloc.Validate(); verr != nil {
		return rep, verr
	}
	return rep, err
}

// tick raises the timer vector every TickInterval.
func (k *Kernel) tick(ctx context.Context, tables *descriptor.Tables) {
	ticker := time.NewTicker(k.cfg.TickInterval)
	defer ticker.Stop()

	for i := 1; k.cfg.Ticks == 0 || i <= k.cfg.Ticks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tables.Raise(TimerVector, &descriptor.ExceptionStackFrame{InstructionPointer: uint64(i)}, 0)
	}
}

// drain is the main loop. It returns once the producer has stopped and the
// queue is empty.
func (k *Kernel) drain(ctx context.Context, q *kring.Queue, done <-chan struct{}, rep *Report) error {
	es := k.cfg.ElemSize
	buf := make([]byte, drainBatch*es)
	poll := time.NewTicker(k.cfg.TickInterval)
	defer poll.Stop()

	for {
		finished := closed(done)

		n, err := q.Dequeue(buf, es)
		if err != nil && !errors.Is(err, kring.ErrLockBusy) {
			return err
		}
		for i := 0; i < n; i++ {
			rec := decodeRecord(buf[i*es:])
			if rec.Seq <= rep.LastSeq {
				k.log.Panicf("record %d after %d", rec.Seq, rep.LastSeq)
			}
			rep.LastSeq = rec.Seq
			rep.Consumed++
			k.log.Infof("tick %d at %s", rec.Seq, time.Duration(rec.Nanos))
		}
		if n > 0 || err != nil {
			continue
		}

		// the producer stopped before this Dequeue, so empty means drained
		if finished {
			return ctx.Err()
		}
		select {
		case <-done:
		case <-poll.C:
		}
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// timer is the interrupt side. Its fields are only touched from the
// goroutine that raises the timer vector.
type timer struct {
	q        *kring.Queue
	elemSize int
	buf      []byte
	start    time.Time

	seq        uint64
	interrupts uint64
	produced   uint64
	dropped    uint64
}

// interrupt pushes a burst of records. An interrupt handler cannot wait, so
// whatever does not fit, or everything when the lock is busy, is dropped.
func (t *timer) interrupt(*descriptor.ExceptionStackFrame, uint64) {
	t.interrupts++

	burst := 1 + int(fastrand.Uint32n(maxBurst))
	clear(t.buf)
	for i := 0; i < burst; i++ {
		t.seq++
		Record{Seq: t.seq, Nanos: time.Since(t.start).Nanoseconds()}.encode(t.buf[i*t.elemSize:])
	}

	n, err := t.q.Enqueue(t.buf[:burst*t.elemSize], t.elemSize)
	if err != nil {
		n = 0
	}
	t.produced += uint64(n)
	t.dropped += uint64(burst - n)
}
