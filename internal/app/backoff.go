package app

import (
	"context"
	"math/rand"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	max     time.Duration
	current time.Duration
	jitter  float64
	clock   clock.Clock
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(c clock.Clock, initial, max time.Duration) *backoff {
	return &backoff{
		max:     max,
		current: initial,
		jitter:  0.2,
		clock:   c,
	}
}

// Wait blocks for the current backoff duration and increases it.
// It returns early with ctx.Err() if ctx is canceled.
func (b *backoff) Wait(ctx context.Context) error {
	// Add jitter: ±20%
	j := float64(b.current) * b.jitter * (rand.Float64()*2 - 1)
	d := time.Duration(float64(b.current) + j)

	// Increase for next time
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.clock.After(d):
		return nil
	}
}
