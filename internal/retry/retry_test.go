package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("network unreachable")

func TestDo(t *testing.T) {
	tests := map[string]struct {
		policy          Policy
		failures        int
		expectedCalls   int
		expectedSleeps  []time.Duration
		expectExhausted bool
	}{
		"succeeds first time": {
			policy:         DownloadPolicy,
			failures:       0,
			expectedCalls:  1,
			expectedSleeps: []time.Duration{},
		},
		"fails n-1 times then succeeds": {
			policy:         DownloadPolicy,
			failures:       2,
			expectedCalls:  3,
			expectedSleeps: []time.Duration{5 * time.Second, 10 * time.Second},
		},
		"fails n times": {
			policy:          DownloadPolicy,
			failures:        10,
			expectedCalls:   3,
			expectedSleeps:  []time.Duration{5 * time.Second, 10 * time.Second},
			expectExhausted: true,
		},
		"sync policy fails n-1 times then succeeds": {
			policy:         SyncPolicy,
			failures:       4,
			expectedCalls:  5,
			expectedSleeps: []time.Duration{time.Minute, time.Minute, time.Minute, time.Minute},
		},
		"sync policy fails n times": {
			policy:          SyncPolicy,
			failures:        5,
			expectedCalls:   5,
			expectedSleeps:  []time.Duration{time.Minute, time.Minute, time.Minute, time.Minute},
			expectExhausted: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fake := clock.NewFake(time.Time{})
			calls := 0
			err := Do(context.Background(), "op", tc.policy, fake, func(ctx context.Context) error {
				calls++
				if calls <= tc.failures {
					return errFlaky
				}
				return nil
			})

			assert.Equal(t, tc.expectedCalls, calls)
			assert.Equal(t, len(tc.expectedSleeps), len(fake.Sleeps()))
			if len(tc.expectedSleeps) > 0 {
				assert.Equal(t, tc.expectedSleeps, fake.Sleeps())
			}

			if tc.expectExhausted {
				var exhausted *RetryExhaustedError
				assert.True(t, errors.As(err, &exhausted))
				assert.Equal(t, tc.policy.Attempts, exhausted.Attempts)
				assert.ErrorIs(t, err, errFlaky)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := clock.NewFake(time.Time{})
	calls := 0
	err := Do(ctx, "op", SyncPolicy, fake, func(ctx context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	var exhausted *RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Attempts: 5, MinDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
}
