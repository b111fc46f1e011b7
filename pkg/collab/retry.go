package collab

import "time"

// Retryer decides the delay before a reconnection attempt.
type Retryer interface {
	// NextDelay returns the delay before attempt (0-based) and whether to
	// keep retrying.
	NextDelay(attempt int) (time.Duration, bool)
}

// DoublingRetryer doubles a base delay on every attempt up to a fixed
// attempt cap. Exceeding the cap is terminal: the session stays
// disconnected until an explicit Connect call.
type DoublingRetryer struct {
	// BaseDelay is the delay before the first attempt.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt delay. Zero means uncapped.
	MaxDelay time.Duration

	// MaxAttempts is the total attempt budget.
	MaxAttempts int
}

// NewDoublingRetryer returns a retryer with the session defaults: one second
// base delay, thirty second cap, five attempts.
func NewDoublingRetryer() *DoublingRetryer {
	return &DoublingRetryer{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// NextDelay implements Retryer.
func (r *DoublingRetryer) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= r.MaxAttempts {
		return 0, false
	}

	delay := r.BaseDelay << uint(attempt)
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay, true
}
