package kring

import "unsafe"

// Of is a typed view over a Queue whose element size is unsafe.Sizeof(T).
//
// T must not contain pointers: elements are copied as raw bytes into memory
// the garbage collector does not scan.
type Of[T any] struct {
	q *Queue
}

// NewOf creates a queue of T elements in region. See Create.
func NewOf[T any](region []byte, opts ...Option) (*Of[T], error) {
	q, err := Create(region, sizeOf[T](), opts...)
	if err != nil {
		return nil, err
	}
	return &Of[T]{q: q}, nil
}

// AttachOf returns a typed handle on a queue created by NewOf. See Attach.
func AttachOf[T any](region []byte, opts ...Option) (*Of[T], error) {
	q, err := Attach(region, sizeOf[T](), opts...)
	if err != nil {
		return nil, err
	}
	return &Of[T]{q: q}, nil
}

// Enqueue appends as many of vs as fit. See Queue.Enqueue.
func (o *Of[T]) Enqueue(vs []T) (int, error) {
	return o.q.Enqueue(bytesOf(vs), sizeOf[T]())
}

// Dequeue fills vs with up to len(vs) elements. See Queue.Dequeue.
func (o *Of[T]) Dequeue(vs []T) (int, error) {
	return o.q.Dequeue(bytesOf(vs), sizeOf[T]())
}

// Queue returns the underlying byte-oriented queue.
func (o *Of[T]) Queue() *Queue {
	return o.q
}

func sizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func bytesOf[T any](vs []T) []byte {
	if len(vs) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vs[0])), len(vs)*sizeOf[T]())
}
