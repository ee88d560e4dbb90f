package confirm

import "time"

// RetryPolicy bounds the attempts one position transition may make.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Allow reports whether another attempt may follow attempt number n
// (1-based).
func (p RetryPolicy) Allow(n int) bool {
	return n < p.MaxAttempts
}

// Delay is the pause after attempt n before the next one.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
