package kring

import (
	"errors"
	"testing"
)

type tick struct {
	Seq    uint64
	Vector uint8
	_      [3]byte
	Jiffy  uint32
}

func TestOfRoundTrip(t *testing.T) {
	region := alignedRegion(4096)
	q, err := NewOf[tick](region)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if q.Queue().ElemSize() != 16 {
		t.Fatalf("element size = %d, want 16", q.Queue().ElemSize())
	}
	if q.Queue().Capacity() != (4096-HeaderSize)/16 {
		t.Fatalf("capacity = %d", q.Queue().Capacity())
	}

	in := []tick{{Seq: 1, Vector: 32, Jiffy: 10}, {Seq: 2, Vector: 33, Jiffy: 20}}
	if n, err := q.Enqueue(in); n != 2 || err != nil {
		t.Fatalf("enqueue = %d, %v", n, err)
	}

	consumer, err := AttachOf[tick](region)
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	out := make([]tick, 4)
	n, err := consumer.Dequeue(out)
	if n != 2 || err != nil {
		t.Fatalf("dequeue = %d, %v", n, err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("element %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestOfRejectsZeroSize(t *testing.T) {
	if _, err := NewOf[struct{}](alignedRegion(128)); !errors.Is(err, ErrElemSize) {
		t.Fatalf("expected ErrElemSize, got %v", err)
	}
}

func TestOfAttachWrongType(t *testing.T) {
	region := alignedRegion(512)
	if _, err := NewOf[uint64](region); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := AttachOf[uint32](region); !errors.Is(err, ErrElemSize) {
		t.Fatalf("expected ErrElemSize, got %v", err)
	}
}
