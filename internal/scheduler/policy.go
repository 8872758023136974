package scheduler

// RetryPolicy bounds the number of charge attempts per installment.
// A failed installment is reconsidered on the next tick; there is no backoff.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy returns the standard policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3}
}

// Exhausted reports whether an installment with this many failures is terminal
func (p RetryPolicy) Exhausted(retries int) bool {
	return retries >= p.MaxRetries
}
