package syncer

import (
	"context"
	"math/rand"
	"time"
)

const (
	backoffFactor = 2
	backoffJitter = 0.1
)

// Backoff spaces resubscribe attempts of one session: the delay doubles per
// failed attempt up to max, spread by ±10% jitter. It is owned by a single
// session goroutine.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// newBackoff creates the backoff for a session from the coordinator config.
func newBackoff(config Config) *Backoff {
	return &Backoff{
		initial: config.InitialBackoff,
		max:     config.MaxBackoff,
		jitter:  backoffJitter,
	}
}

// Next returns the delay before the next attempt and counts the attempt.
func (b *Backoff) Next() time.Duration {
	delay := b.initial
	for i := 0; i < b.attempt && delay < b.max; i++ {
		delay *= backoffFactor
	}
	if delay > b.max {
		delay = b.max
	}
	b.attempt++

	if b.jitter > 0 {
		spread := float64(delay) * b.jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return delay
}

// Wait sleeps for the next delay. It returns false if ctx ended first.
func (b *Backoff) Wait(ctx context.Context) bool {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset starts over after a healthy stream.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of attempts since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
