package broadcast

import "time"

// retryState tracks the per-recipient retry budget for transient
// failures. It is a plain value so backoff timing can be unit-tested
// without real delays.
type retryState struct {
	attempts int
	limit    int
	base     time.Duration
}

// next returns the delay before the following attempt, or ok=false
// when the budget is exhausted. A platform retry-after hint wins over
// the computed backoff when it is longer.
func (r *retryState) next(hint time.Duration) (time.Duration, bool) {
	if r.attempts >= r.limit {
		return 0, false
	}
	d := r.base << r.attempts // exponential: base, 2*base, 4*base, ...
	if hint > d {
		d = hint
	}
	r.attempts++
	return d, true
}
