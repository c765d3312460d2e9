package stealth

import (
	"context"
	"math/rand"
	"time"
)

// Pacer spaces consecutive actions with a random pause in [Min, Max].
// A zero Pacer never sleeps.
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

// NewPacer returns a pacer; min and max are swapped if reversed.
func NewPacer(min, max time.Duration) Pacer {
	if min > max {
		min, max = max, min
	}
	return Pacer{Min: min, Max: max}
}

// Next returns the next pause length.
func (p Pacer) Next() time.Duration {
	return Between(p.Min, p.Max)
}

// Wait pauses for Next() or until ctx is done.
func (p Pacer) Wait(ctx context.Context) error {
	return Sleep(ctx, p.Next())
}

// Between returns a random duration in [min, max].
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
