package kring

// Enqueue appends up to len(src)/elemSize elements from src.
//
// elemSize must equal the size the queue was created with and len(src) must
// be a whole number of elements; otherwise a *ContractError is reported to
// the violation handler and returned.
//
// Enqueue never waits. If the WRITING bit can't be claimed within the retry
// budget it returns ErrLockBusy without touching the queue. Otherwise it
// returns the number of elements written, which is less than requested (and
// may be zero) when the queue is full; the caller retries the remainder.
func (q *Queue) Enqueue(src []byte, elemSize int) (int, error) {
	count, err := q.check("enqueue", len(src), elemSize)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	q.stats.enqueueCalls.Add(1)
	if !q.tryLock(writeMutex) {
		q.stats.enqueueLockBusy.Add(1)
		return 0, ErrLockBusy
	}

	h := q.hdr
	r := h.readHead.Load()
	w := h.writeHead.Load()
	n := min(uint64(count), q.capacity-(w-r))

	q.copyIn(w, src[:int(n)*q.elemSize])
	h.writeHead.Store(w + n)

	q.unlock(writeMutex)

	q.stats.enqueued.Add(n)
	if n < uint64(count) {
		q.stats.enqueueFull.Add(1)
	}
	return int(n), nil
}

// Dequeue removes up to len(dst)/elemSize elements into dst, oldest first.
// Its contract mirrors Enqueue: ErrLockBusy when the READING bit is taken,
// otherwise the number of elements read, which is short (or zero) when the
// queue holds fewer than requested.
func (q *Queue) Dequeue(dst []byte, elemSize int) (int, error) {
	count, err := q.check("dequeue", len(dst), elemSize)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	q.stats.dequeueCalls.Add(1)
	if !q.tryLock(readMutex) {
		q.stats.dequeueLockBusy.Add(1)
		return 0, ErrLockBusy
	}

	h := q.hdr
	r := h.readHead.Load()
	w := h.writeHead.Load()
	n := min(uint64(count), w-r)

	q.copyOut(r, dst[:int(n)*q.elemSize])
	h.readHead.Store(r + n)

	q.unlock(readMutex)

	q.stats.dequeued.Add(n)
	if n < uint64(count) {
		q.stats.dequeueEmpty.Add(1)
	}
	return int(n), nil
}

// check validates the caller's view of the element size and returns the
// number of whole elements in a buffer of size bytes.
func (q *Queue) check(op string, size, elemSize int) (int, error) {
	var err *ContractError
	switch {
	case elemSize != q.elemSize:
		err = &ContractError{Op: op, What: "element size", Got: elemSize, Want: q.elemSize}
	case size%q.elemSize != 0:
		err = &ContractError{Op: op, What: "buffer length remainder", Got: size % q.elemSize, Want: 0}
	default:
		return size / q.elemSize, nil
	}

	q.stats.violations.Add(1)
	if q.violation != nil {
		q.violation(err)
	}
	return 0, err
}

// copyIn writes src at logical element index at, wrapping to the start of
// the storage when the write runs past the end.
func (q *Queue) copyIn(at uint64, src []byte) {
	off := q.offset(at)
	k := copy(q.data[off:], src)
	copy(q.data, src[k:])
}

// copyOut is the read-side counterpart of copyIn.
func (q *Queue) copyOut(at uint64, dst []byte) {
	off := q.offset(at)
	k := copy(dst, q.data[off:])
	copy(dst[k:], q.data)
}

// offset converts a head counter to a byte offset in the storage.
func (q *Queue) offset(index uint64) int {
	return int(index%q.capacity) * q.elemSize
}
