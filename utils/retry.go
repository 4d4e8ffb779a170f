package utils

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy drives retries of transient send/connect failures with
// bounded exponential backoff. Auth errors are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, 0 disables

	// Sleep is replaceable in tests. Nil means time.Sleep honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

// DefaultRetryPolicy matches typical SMTP greylisting behaviour.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the backoff before the given retry attempt (1-based,
// so Delay(1) is the pause after the first failure).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		r := p.Rand
		var f float64
		if r != nil {
			f = r.Float64()
		} else {
			f = rand.Float64()
		}
		d += time.Duration(f * p.Jitter * float64(d))
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if IsAuthError(err) || !IsTemporary(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
