package fetcher

import (
	"context"
	"math/rand"
	"time"
)

// Range is a closed interval of durations a randomized pause is drawn
// from.
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Pick returns a uniformly random duration in the range. A range whose Max
// is not above Min always yields Min.
func (r Range) Pick() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min+1)))
}

// Sleeper pauses between requests.
type Sleeper interface {
	Sleep(ctx context.Context, r Range) error
}

// RandomSleeper sleeps for a random duration inside the range.
type RandomSleeper struct{}

// Sleep blocks for r.Pick() or until ctx is done, whichever comes first.
func (RandomSleeper) Sleep(ctx context.Context, r Range) error {
	d := r.Pick()
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

// NoSleep never pauses. It still honors cancellation.
type NoSleep struct{}

// Sleep returns ctx.Err() immediately.
func (NoSleep) Sleep(ctx context.Context, _ Range) error {
	return ctx.Err()
}
