package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/dan-v/rattlesnakeos-builder/internal/config"
	"github.com/dan-v/rattlesnakeos-builder/internal/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errRemote = errors.New("remote unreachable")
	errBuild  = errors.New("build broke")
	february  = time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
)

type fakeTagSource struct {
	tags []string
	err  error
}

func (f *fakeTagSource) Tags(ctx context.Context) ([]string, error) {
	return f.tags, f.err
}

type fakeBuilder struct {
	tags []string
	err  error
	hook func(ctx context.Context)
}

func (f *fakeBuilder) Build(ctx context.Context, tag string) error {
	f.tags = append(f.tags, tag)
	if f.hook != nil {
		f.hook(ctx)
	}
	return f.err
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func newTestMonitor(t *testing.T, cfg Config, source TagSource, builder Builder, clk clock.Clock) (*Monitor, *state.Store) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	return New(cfg, source, store, builder, clk, &fakeNotifier{}), store
}

func TestMonitor_PollFreshStateOnRelease(t *testing.T) {
	source := &fakeTagSource{tags: []string{"2025020100", "2025011500"}}
	m, store := newTestMonitor(t, Config{Mode: config.ModeOnRelease}, source, &fakeBuilder{}, clock.NewFake(february))

	decision, err := m.Poll(context.Background())
	require.Nil(t, err)
	assert.Equal(t, Decision{Build: true, Tag: "2025020100"}, decision)

	monitorState, monthly, err := store.Load()
	require.Nil(t, err)
	assert.Equal(t, "2025020100", monitorState.LastTag)
	assert.Equal(t, "2025020100", monitorState.LastBuildTag)
	assert.Equal(t, "2025-02-10T12:00:00Z", monitorState.LastCheck)
	assert.Equal(t, state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 1}, monthly)
}

func TestMonitor_PollUnchangedTagIsNoop(t *testing.T) {
	source := &fakeTagSource{tags: []string{"2025020100"}}
	fake := clock.NewFake(february)
	m, store := newTestMonitor(t, Config{Mode: config.ModeOnRelease}, source, &fakeBuilder{}, fake)

	_, err := m.Poll(context.Background())
	require.Nil(t, err)
	before := readFiles(t, store)

	for i := 0; i < 5; i++ {
		fake.Set(fake.Now().Add(time.Hour))
		decision, err := m.Poll(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, Decision{}, decision)
	}

	assert.Equal(t, before, readFiles(t, store))
}

func TestMonitor_PollMonthly(t *testing.T) {
	tests := map[string]struct {
		ordinal       int
		prior         state.MonthlyBuildState
		newTag        string
		expectedBuild bool
		expectedPrior state.MonthlyBuildState
	}{
		"second release of the month with ordinal two builds": {
			ordinal:       2,
			prior:         state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 1},
			newTag:        "2025021000",
			expectedBuild: true,
			expectedPrior: state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 2, BuiltThisMonth: true},
		},
		"third release of the month after a build does not build": {
			ordinal:       2,
			prior:         state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 2, BuiltThisMonth: true},
			newTag:        "2025021000",
			expectedBuild: false,
			expectedPrior: state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 3, BuiltThisMonth: true},
		},
		"first release of the month with ordinal two does not build": {
			ordinal:       2,
			prior:         state.MonthlyBuildState{},
			newTag:        "2025021000",
			expectedBuild: false,
			expectedPrior: state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 1},
		},
		"month rollover resets counter and built flag": {
			ordinal:       1,
			prior:         state.MonthlyBuildState{CurrentMonth: "2025-01", ReleasesThisMonth: 4, BuiltThisMonth: true},
			newTag:        "2025021000",
			expectedBuild: true,
			expectedPrior: state.MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 1, BuiltThisMonth: true},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			source := &fakeTagSource{tags: []string{tc.newTag}}
			m, store := newTestMonitor(t, Config{Mode: config.ModeMonthly, MonthlyOrdinal: tc.ordinal}, source, &fakeBuilder{}, clock.NewFake(february))
			require.Nil(t, store.Monitor.Save(state.MonitorState{LastTag: "2025020100"}))
			require.Nil(t, store.Monthly.Save(tc.prior))

			decision, err := m.Poll(context.Background())
			require.Nil(t, err)
			assert.Equal(t, tc.expectedBuild, decision.Build)
			assert.Equal(t, tc.newTag, decision.Tag)

			monitorState, monthly, err := store.Load()
			require.Nil(t, err)
			assert.Equal(t, tc.expectedPrior, monthly)
			assert.Equal(t, tc.newTag, monitorState.LastTag)
			if tc.expectedBuild {
				assert.Equal(t, tc.newTag, monitorState.LastBuildTag)
			} else {
				assert.Equal(t, "", monitorState.LastBuildTag)
			}
		})
	}
}

func TestMonitor_MonthlyBuildsExactlyOnceOnKthRelease(t *testing.T) {
	for ordinal := 1; ordinal <= 4; ordinal++ {
		for releases := 0; releases <= 5; releases++ {
			t.Run(fmt.Sprintf("ordinal %v releases %v", ordinal, releases), func(t *testing.T) {
				source := &fakeTagSource{}
				m, store := newTestMonitor(t, Config{Mode: config.ModeMonthly, MonthlyOrdinal: ordinal}, source, &fakeBuilder{}, clock.NewFake(february))

				var builtOn []int
				for i := 1; i <= releases; i++ {
					source.tags = []string{fmt.Sprintf("20250210%02d", i)}
					decision, err := m.Poll(context.Background())
					require.Nil(t, err)
					if decision.Build {
						builtOn = append(builtOn, i)
					}

					_, monthly, err := store.Load()
					require.Nil(t, err)
					assert.Equal(t, i, monthly.ReleasesThisMonth)
				}

				if releases >= ordinal {
					assert.Equal(t, []int{ordinal}, builtOn)
				} else {
					assert.Empty(t, builtOn)
				}
			})
		}
	}
}

func TestMonitor_OnReleaseBuildsEveryNewTag(t *testing.T) {
	source := &fakeTagSource{}
	fake := clock.NewFake(time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC))
	m, store := newTestMonitor(t, Config{Mode: config.ModeOnRelease}, source, &fakeBuilder{}, fake)

	tags := []string{"2025013000", "2025013000", "2025020100", "2025020100", "2025020500"}
	var built []string
	for _, tag := range tags {
		source.tags = []string{tag}
		decision, err := m.Poll(context.Background())
		require.Nil(t, err)
		if decision.Build {
			built = append(built, decision.Tag)
		}
		fake.Set(fake.Now().Add(48 * time.Hour))
	}

	assert.Equal(t, []string{"2025013000", "2025020100", "2025020500"}, built)
	_, monthly, err := store.Load()
	require.Nil(t, err)
	assert.Equal(t, "2025-02", monthly.CurrentMonth)
	assert.Equal(t, 2, monthly.ReleasesThisMonth)
}

func TestMonitor_PollFetchErrors(t *testing.T) {
	tests := map[string]struct {
		source *fakeTagSource
	}{
		"remote unreachable": {
			source: &fakeTagSource{err: errRemote},
		},
		"empty tag list": {
			source: &fakeTagSource{tags: []string{}},
		},
		"blank newest tag": {
			source: &fakeTagSource{tags: []string{" "}},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, store := newTestMonitor(t, Config{Mode: config.ModeOnRelease}, tc.source, &fakeBuilder{}, clock.NewFake(february))

			decision, err := m.Poll(context.Background())
			var fetchErr *FetchError
			assert.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, Decision{}, decision)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().fetchErrors))

			_, statErr := os.Stat(store.Monitor.Path())
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestMonitor_RunDisabledBuildsOnce(t *testing.T) {
	tests := map[string]struct {
		buildErr error
	}{
		"successful build": {
			buildErr: nil,
		},
		"failed build is propagated": {
			buildErr: errBuild,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			builder := &fakeBuilder{err: tc.buildErr}
			fake := clock.NewFake(february)
			m, _ := newTestMonitor(t, Config{Enabled: false}, &fakeTagSource{err: errRemote}, builder, fake)

			err := m.Run(context.Background())
			assert.ErrorIs(t, err, tc.buildErr)
			assert.Equal(t, []string{""}, builder.tags)
			assert.Empty(t, fake.Sleeps())
		})
	}
}

func TestMonitor_RunLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeTagSource{tags: []string{"2025020100"}}
	builder := &fakeBuilder{err: errBuild}
	notifier := &fakeNotifier{}
	fake := clock.NewFake(february)
	metricsPath := filepath.Join(t.TempDir(), "monitor.prom")

	fake.OnSleep = func(count int) {
		switch count {
		case 1:
			source.err = errRemote
		case 2:
			source.err = nil
			source.tags = []string{"2025020500"}
		case 3:
			cancel()
		}
	}

	store := state.NewStore(t.TempDir())
	cfg := Config{Mode: config.ModeOnRelease, Interval: time.Hour, Enabled: true, MetricsTextfile: metricsPath}
	m := New(cfg, source, store, builder, fake, notifier)

	err := m.Run(ctx)
	assert.Nil(t, err)
	assert.Equal(t, []string{"2025020100", "2025020500"}, builder.tags)
	assert.Equal(t, []time.Duration{time.Hour, time.Hour, time.Hour}, fake.Sleeps())
	assert.Len(t, notifier.messages, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Metrics().polls))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Metrics().buildFailures))

	_, err = os.Stat(metricsPath)
	assert.Nil(t, err)
}

func TestMonitor_RunCancelledDuringBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buildCtxErr error
	builder := &fakeBuilder{}
	builder.hook = func(buildCtx context.Context) {
		cancel()
		buildCtxErr = buildCtx.Err()
	}
	fake := clock.NewFake(february)
	cfg := Config{Mode: config.ModeOnRelease, Interval: time.Hour, Enabled: true}
	m, _ := newTestMonitor(t, cfg, &fakeTagSource{tags: []string{"2025020100"}}, builder, fake)

	err := m.Run(ctx)
	assert.Nil(t, err)
	assert.Nil(t, buildCtxErr, "a running build must not see the cancellation")
	assert.Equal(t, []string{"2025020100"}, builder.tags)
	assert.Empty(t, fake.Sleeps())
}

func TestMonitor_RunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	builder := &fakeBuilder{}
	cfg := Config{Mode: config.ModeOnRelease, Interval: time.Hour, Enabled: true}
	m, _ := newTestMonitor(t, cfg, &fakeTagSource{tags: []string{"2025020100"}}, builder, clock.NewFake(february))

	assert.Nil(t, m.Run(ctx))
	assert.Empty(t, builder.tags)
}

func readFiles(t *testing.T, store *state.Store) [2]string {
	t.Helper()
	monitorData, err := os.ReadFile(store.Monitor.Path())
	require.Nil(t, err)
	monthlyData, err := os.ReadFile(store.Monthly.Path())
	require.Nil(t, err)
	return [2]string{string(monitorData), string(monthlyData)}
}

func TestMonitor_Status(t *testing.T) {
	source := &fakeTagSource{tags: []string{"2025020100"}}
	m, _ := newTestMonitor(t, Config{Mode: config.ModeOnRelease}, source, &fakeBuilder{}, clock.NewFake(february))

	monitorState, monthly, err := m.Status()
	require.Nil(t, err)
	assert.Equal(t, state.MonitorState{}, monitorState)
	assert.Equal(t, state.MonthlyBuildState{}, monthly)

	_, err = m.Poll(context.Background())
	require.Nil(t, err)

	monitorState, monthly, err = m.Status()
	require.Nil(t, err)
	assert.Equal(t, "2025020100", monitorState.LastTag)
	assert.Equal(t, 1, monthly.ReleasesThisMonth)
}
