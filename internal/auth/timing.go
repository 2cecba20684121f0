package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// FailureDelay pads rejected recovery link redemptions to a common minimum duration,
// so "no such user" and "bad signature" cannot be told apart by response time.
type FailureDelay struct {
	base   time.Duration
	jitter time.Duration
}

// NewFailureDelay creates a delay of base plus up to jitter of random padding
func NewFailureDelay(base, jitter time.Duration) *FailureDelay {
	return &FailureDelay{base: base, jitter: jitter}
}

// target returns the total duration a failed request should take
func (d *FailureDelay) target() time.Duration {
	if d.jitter <= 0 {
		return d.base
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(d.jitter)))
	if err != nil {
		return d.base
	}
	return d.base + time.Duration(n.Int64())
}

// WaitFrom blocks until at least the target duration has elapsed since start.
// Returns early when ctx is cancelled.
func (d *FailureDelay) WaitFrom(ctx context.Context, start time.Time) {
	if d == nil {
		return
	}

	remaining := d.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
