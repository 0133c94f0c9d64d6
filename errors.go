package kring

import (
	"errors"
	"fmt"
)

var (
	// ErrMisaligned is returned by Create when the region base is not
	// aligned to CacheLineSize.
	ErrMisaligned = errors.New("kring: region not cache-line aligned")
	// ErrElemSize is returned for a zero, negative or oversized element size.
	ErrElemSize = errors.New("kring: invalid element size")
	// ErrRegionTooSmall is returned when no whole element fits after the header.
	ErrRegionTooSmall = errors.New("kring: region too small")
	// ErrCorrupted reports a header whose sentinels or heads are inconsistent.
	ErrCorrupted = errors.New("kring: queue header corrupted")

	// ErrLockBusy is returned by Enqueue and Dequeue when the side's lock bit
	// could not be claimed within the retry budget. Nothing was transferred
	// and the queue is unchanged; the caller may retry later.
	ErrLockBusy = errors.New("kring: lock busy")

	// ErrContract is matched by every *ContractError.
	ErrContract = errors.New("kring: contract violation")
)

// ContractError reports a call that disagrees with the queue's layout, such
// as an element size different from the one fixed at creation. It is a
// programming error: continuing would copy the wrong number of bytes, so
// callers are expected to treat it as fatal.
type ContractError struct {
	Op   string
	Want int
	Got  int
	What string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("kring: %s: %s is %d, want %d", e.Op, e.What, e.Got, e.Want)
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}
