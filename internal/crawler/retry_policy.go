package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// RetryPolicy bounds how often and how long a fetch is attempted.
type RetryPolicy struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	MaxJitter         time.Duration
}

// ShouldRetry decides whether another attempt is allowed after err.
// HTTP statuses never reach here: only transport failures are errors.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Jitter returns a random pause in [0, MaxJitter).
func (p RetryPolicy) Jitter() time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter)))
	if err != nil {
		return p.MaxJitter / 2
	}
	return time.Duration(n.Int64())
}
