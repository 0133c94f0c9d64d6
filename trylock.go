package kring

const (
	readMutex  uint32 = 1 << 0
	writeMutex uint32 = 1 << 1
)

// tryLock attempts to set bit in the header flags with at most q.retries
// compare-and-swap attempts. The other bit is left as found, so a reader and
// a writer can hold their bits at the same time.
func (q *Queue) tryLock(bit uint32) bool {
	flags := &q.hdr.flags
	for i := 0; i < q.retries; i++ {
		cur := flags.Load() &^ bit
		if flags.CompareAndSwap(cur, cur|bit) {
			return true
		}
	}
	return false
}

// unlock clears bit. Only the holder of bit may call it.
func (q *Queue) unlock(bit uint32) {
	q.hdr.flags.And(^bit)
}
