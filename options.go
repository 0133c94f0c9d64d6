package kring

const (
	// LockRetries is the default number of compare-and-swap attempts made to
	// claim a lock bit before giving up with ErrLockBusy.
	LockRetries = 5

	// MaxLockRetries bounds WithLockRetries so a call always finishes in a
	// small, fixed number of steps.
	MaxLockRetries = 64
)

type options struct {
	lockRetries int
	violation   func(error)
}

func defaultOptions() options {
	return options{
		lockRetries: LockRetries,
	}
}

// Option configures a Queue handle.
type Option func(*options)

// WithLockRetries sets the number of compare-and-swap attempts per lock
// acquisition. Values are clamped to [1, MaxLockRetries].
func WithLockRetries(n int) Option {
	return func(o *options) {
		switch {
		case n < 1:
			n = 1
		case n > MaxLockRetries:
			n = MaxLockRetries
		}
		o.lockRetries = n
	}
}

// WithViolationHandler installs fn to be called with every *ContractError
// before it is returned. A kernel passes a function that halts.
func WithViolationHandler(fn func(error)) Option {
	return func(o *options) {
		o.violation = fn
	}
}
