// Command kring runs the kernel bring-up on the host: memory, descriptor
// tables and the timer interrupt queue, with the serial log on stdout or a
// terminal device.
//
// Usage:
//
//	go run ./cmd/kring -ticks 200 -interval 500us -level debug
//	go run ./cmd/kring -tty /dev/pts/3 -ticks 0
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aradilov/kring/internal/boot"
	"github.com/aradilov/kring/internal/descriptor"
	"github.com/aradilov/kring/internal/klog"
	"github.com/aradilov/kring/internal/serial"
)

func main() {
	def := boot.DefaultConfig()
	pages := flag.Int("pages", def.Pages, "pages of physical memory")
	queuePages := flag.Int("queue-pages", def.QueuePages, "pages for the interrupt queue")
	elemSize := flag.Int("elem-size", def.ElemSize, "bytes per queue element")
	ticks := flag.Int("ticks", def.Ticks, "timer interrupts to deliver, 0 runs until interrupted")
	interval := flag.Duration("interval", def.TickInterval, "time between timer interrupts")
	retries := flag.Int("retries", def.LockRetries, "try-lock attempts per queue operation")
	ttyPath := flag.String("tty", "", "terminal device for the serial log (default stdout)")
	level := flag.String("level", "info", "log level: error, warn, info, debug or none")
	flag.Parse()

	mask, ok := klog.ParseLevel(*level)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown log level %q\n", *level)
		os.Exit(2)
	}

	cfg := boot.Config{
		Pages:        *pages,
		QueuePages:   *queuePages,
		ElemSize:     *elemSize,
		Ticks:        *ticks,
		TickInterval: *interval,
		LockRetries:  *retries,
	}

	var port interface {
		serial.Port
		Flush() error
	}
	if *ttyPath != "" {
		p, err := serial.OpenTTY(*ttyPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer p.Close()
		port = p
	} else {
		port = serial.NewWriterPort(os.Stdout)
	}

	log := klog.New(port, klog.WithLevel(mask), klog.WithHalt(func(h *klog.Halt) {
		port.Flush()
		fmt.Fprintln(os.Stderr, h)
		os.Exit(3)
	}))
	klog.SetDefault(log)

	k, err := boot.New(cfg, log, &descriptor.RecordingCPU{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := k.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("run: %v", err)
		port.Flush()
		os.Exit(1)
	}
	klog.Logf("halted after %d interrupts, %d records moved", rep.Interrupts, rep.Consumed)
}
