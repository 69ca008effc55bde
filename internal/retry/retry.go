package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// SyncPolicy is used around source syncs, which fail often on large manifests
	SyncPolicy = Policy{Attempts: 5, MinDelay: time.Minute, MaxDelay: time.Minute}
	// DownloadPolicy is used around artifact downloads and release metadata fetches
	DownloadPolicy = Policy{Attempts: 3, MinDelay: 5 * time.Second, MaxDelay: 10 * time.Second}
)

// Policy bounds how many times an operation is attempted and how long to wait between attempts
type Policy struct {
	// Attempts is the total number of attempts, including the first one
	Attempts int
	// MinDelay is the wait after the first failure. It doubles after every further failure.
	MinDelay time.Duration
	// MaxDelay caps the wait between attempts
	MaxDelay time.Duration
}

// Delay returns how long to wait after the given failed attempt (1 based)
func (p Policy) Delay(attempt int) time.Duration {
	d := p.MinDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sleeper waits between attempts
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RetryExhaustedError is returned once every attempt of an operation failed
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%v failed after %v attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Do runs fn until it succeeds or the policy is exhausted. No attempt is made after
// the first success.
func Do(ctx context.Context, op string, policy Policy, sleeper Sleeper, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		log.WithError(last).Warnf("%v attempt %v/%v failed, retrying in %v", op, attempt, attempts, delay)
		if err := sleeper.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%v interrupted after %v attempts: %w", op, attempt, err)
		}
	}

	return &RetryExhaustedError{
		Op:       op,
		Attempts: attempts,
		Last:     last,
	}
}
