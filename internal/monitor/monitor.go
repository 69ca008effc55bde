package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/dan-v/rattlesnakeos-builder/internal/config"
	"github.com/dan-v/rattlesnakeos-builder/internal/notify"
	"github.com/dan-v/rattlesnakeos-builder/internal/state"
	log "github.com/sirupsen/logrus"
)

// ErrNoTags is wrapped in a FetchError when the remote returned no usable tags
var ErrNoTags = errors.New("no release tags found")

// Builder runs one build of tag. An empty tag means the configured tag.
type Builder interface {
	Build(ctx context.Context, tag string) error
}

// BuilderFunc adapts a function to Builder
type BuilderFunc func(ctx context.Context, tag string) error

// Build calls f
func (f BuilderFunc) Build(ctx context.Context, tag string) error {
	return f(ctx, tag)
}

// Decision is the outcome of a poll
type Decision struct {
	// Build is true if Tag should be built
	Build bool
	// Tag is the newest observed tag, set whenever a new tag was seen
	Tag string
}

// Config controls polling cadence and the build decision
type Config struct {
	// Mode is config.ModeOnRelease or config.ModeMonthly
	Mode string
	// MonthlyOrdinal is the Nth new release of a month that triggers a build in monthly mode
	MonthlyOrdinal int
	// Interval is the wait between polls
	Interval time.Duration
	// Enabled turns on polling. When false Run builds once and returns.
	Enabled bool
	// MetricsTextfile receives metrics after every cycle if set
	MetricsTextfile string
}

// Monitor polls upstream release tags and triggers builds
type Monitor struct {
	config   Config
	source   TagSource
	store    *state.Store
	builder  Builder
	clock    clock.Clock
	notifier notify.Notifier
	metrics  *Metrics
}

// New returns an initialized Monitor
func New(cfg Config, source TagSource, store *state.Store, builder Builder, clk clock.Clock, notifier notify.Notifier) *Monitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Monitor{
		config:   cfg,
		source:   source,
		store:    store,
		builder:  builder,
		clock:    clk,
		notifier: notifier,
		metrics:  NewMetrics(),
	}
}

// Metrics returns the metrics recorded by m
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Poll fetches the newest tag and decides whether it should be built. Both state files
// are persisted before Poll returns whenever a new tag was observed. An unchanged tag
// leaves the state files untouched.
func (m *Monitor) Poll(ctx context.Context) (Decision, error) {
	m.metrics.polls.Inc()

	tags, err := m.source.Tags(ctx)
	if err == nil && (len(tags) == 0 || strings.TrimSpace(tags[0]) == "") {
		err = ErrNoTags
	}
	if err != nil {
		m.metrics.fetchErrors.Inc()
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			err = &FetchError{Source: "upstream", Err: err}
		}
		return Decision{}, err
	}

	newest := strings.TrimSpace(tags[0])
	now := m.clock.Now().UTC()
	decision := Decision{}

	err = m.store.Update(func(monitorState *state.MonitorState, monthly *state.MonthlyBuildState) (bool, error) {
		if monitorState.LastTag == newest {
			m.metrics.releasesThisMonth.Set(float64(monthly.ReleasesThisMonth))
			return false, nil
		}

		monitorState.LastTag = newest
		monitorState.LastCheck = now.Format(time.RFC3339)
		countRelease(monthly, now)

		decision = Decision{Tag: newest, Build: m.shouldBuild(monthly)}
		if decision.Build {
			monitorState.LastBuildTag = newest
		}
		m.metrics.releasesThisMonth.Set(float64(monthly.ReleasesThisMonth))
		return true, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to update monitor state: %w", err)
	}

	if decision.Tag != "" {
		log.WithFields(log.Fields{
			"tag":   decision.Tag,
			"build": decision.Build,
			"mode":  m.config.Mode,
		}).Info("observed new release")
	}
	return decision, nil
}

// countRelease rolls the tracked month over if needed and counts one new release
func countRelease(monthly *state.MonthlyBuildState, now time.Time) {
	month := now.Format(state.MonthFormat)
	if monthly.CurrentMonth != month {
		monthly.CurrentMonth = month
		monthly.ReleasesThisMonth = 0
		monthly.BuiltThisMonth = false
	}
	monthly.ReleasesThisMonth++
}

func (m *Monitor) shouldBuild(monthly *state.MonthlyBuildState) bool {
	if m.config.Mode != config.ModeMonthly {
		return true
	}
	if monthly.BuiltThisMonth || monthly.ReleasesThisMonth < m.config.MonthlyOrdinal {
		return false
	}
	monthly.BuiltThisMonth = true
	return true
}

// Run polls until ctx is done. Cancellation is checked before every poll and sleep, and
// builds run to completion even if ctx is cancelled meanwhile. A failed build is logged
// and notified but does not stop the loop.
//
// If monitoring is disabled Run performs a single build and returns its error.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.config.Enabled {
		log.Info("release monitoring disabled, running a single build")
		return m.builder.Build(context.WithoutCancel(ctx), "")
	}

	log.Infof("monitoring releases every %v (mode=%v)", m.config.Interval, m.config.Mode)
	for {
		if ctx.Err() != nil {
			log.Info("stopping release monitor")
			return nil
		}

		m.cycle(ctx)
		m.writeMetrics()

		if ctx.Err() != nil {
			log.Info("stopping release monitor")
			return nil
		}
		if err := m.clock.Sleep(ctx, m.config.Interval); err != nil {
			log.Info("stopping release monitor")
			return nil
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	decision, err := m.Poll(ctx)
	if err != nil {
		log.WithError(err).Warn("release check failed, will retry on next interval")
		return
	}
	if !decision.Build {
		return
	}

	m.metrics.buildsTriggered.Inc()
	log.Infof("starting build for release %v", decision.Tag)
	if err := m.builder.Build(context.WithoutCancel(ctx), decision.Tag); err != nil {
		m.metrics.buildFailures.Inc()
		log.WithError(err).Errorf("build for release %v failed", decision.Tag)
		notify.Send(ctx, m.notifier, fmt.Sprintf("build for release %v failed: %v", decision.Tag, err))
		return
	}
	log.Infof("build for release %v finished", decision.Tag)
}

func (m *Monitor) writeMetrics() {
	if m.config.MetricsTextfile == "" {
		return
	}
	if err := m.metrics.WriteTextfile(m.config.MetricsTextfile); err != nil {
		log.WithError(err).Warn("failed to write metrics")
	}
}

// Status returns the persisted monitor state
func (m *Monitor) Status() (state.MonitorState, state.MonthlyBuildState, error) {
	return m.store.Load()
}
