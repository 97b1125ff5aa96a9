package bed

import "errors"

// Sentinel errors distinguishing malformed upstream data from the
// normal transient-absence conditions, which are reported as explicit
// absent values rather than errors.
var (
	// ErrNoData means no device snapshot has been recorded yet.
	ErrNoData = errors.New("bed: no device snapshot recorded yet")

	// ErrNoCompletedSession means the intervals list holds no
	// completed session to reduce.
	ErrNoCompletedSession = errors.New("bed: no completed sleep session")

	// ErrEmptyTimeseries means a completed session carries a metric
	// with zero samples, so its average is undefined. This indicates
	// malformed upstream data and is never masked as a zero.
	ErrEmptyTimeseries = errors.New("bed: empty timeseries")
)
