package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts the time operations used by the monitor loop and retry backoff so
// that tests can run cadence logic without real delays.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first. It returns
	// ctx.Err() if the sleep was cut short.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// Fake is a Clock that never blocks. Sleep advances the fake time and records the
// requested duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// OnSleep, if set, is called after every Sleep with the number of sleeps so far
	OnSleep func(count int)
}

// NewFake returns a Fake starting at now
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake time to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Sleep records d and advances the fake time by d
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	count := len(f.sleeps)
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(count)
	}
	return ctx.Err()
}

// Sleeps returns every duration passed to Sleep so far
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
