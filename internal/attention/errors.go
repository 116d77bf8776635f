package attention

import "errors"

var (
	// ErrUnsupportedConfig marks option combinations the kernel cannot run,
	// detected before any buffer is touched. Not retryable with the same
	// configuration.
	ErrUnsupportedConfig = errors.New("unsupported attention configuration")

	// ErrResourceInsufficient means the occupancy model could not afford a
	// single execution unit for the requested tile configuration. Callers
	// may retry with smaller tiles or abort.
	ErrResourceInsufficient = errors.New("insufficient resources for any execution unit")

	// ErrExecutionFailure covers failures during a launched run, including
	// cancellation at the host-level wait. Fatal to the current run.
	ErrExecutionFailure = errors.New("attention execution failure")
)

var (
	errBadGranule         = errors.New("alignment granule must be at least 1")
	errBadCount           = errors.New("problem count does not match batch size times head count")
	errRowMismatch        = errors.New("query length differs between score and value shapes")
	errInnerMismatch      = errors.New("key length does not feed the value multiply reduction")
	errRealExceedsAligned = errors.New("real extent outside aligned shape")
	errOffsetGap          = errors.New("operand offsets are not cumulative")
)
