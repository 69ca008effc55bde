package state

import (
	"path/filepath"
	"time"
)

const (
	// MonitorStateFilename is the well known name of the monitor state file
	MonitorStateFilename = "monitor_state.json"
	// MonthlyBuildStateFilename is the well known name of the monthly cadence state file
	MonthlyBuildStateFilename = "monthly_build_state.json"
	// MonthFormat is the layout of MonthlyBuildState.CurrentMonth
	MonthFormat = "2006-01"
)

// MonitorState tracks which release tags the monitor has seen and built
type MonitorState struct {
	// LastTag is the most recent remote tag observed as new
	LastTag string `json:"last_tag" yaml:"last_tag"`
	// LastBuildTag is the tag a build was last triggered for
	LastBuildTag string `json:"last_build_tag" yaml:"last_build_tag"`
	// LastCheck is the UTC RFC 3339 time of the last poll that changed state
	LastCheck string `json:"last_check" yaml:"last_check"`
}

// CheckedAt parses LastCheck. It returns false if it is empty or malformed.
func (s MonitorState) CheckedAt() (time.Time, bool) {
	if s.LastCheck == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.LastCheck)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MonthlyBuildState tracks the release cadence within the current month
type MonthlyBuildState struct {
	// CurrentMonth is the tracked month formatted as YYYY-MM
	CurrentMonth string `json:"current_month" yaml:"current_month"`
	// ReleasesThisMonth counts new tags observed in CurrentMonth
	ReleasesThisMonth int `json:"releases_this_month" yaml:"releases_this_month"`
	// BuiltThisMonth is set once a build was triggered in CurrentMonth
	BuiltThisMonth bool `json:"built_this_month" yaml:"built_this_month"`
}

// Store gives read-modify-write access to both monitor state files
type Store struct {
	Monitor *File[MonitorState]
	Monthly *File[MonthlyBuildState]
}

// NewStore returns a Store with both files at their well known names inside dir
func NewStore(dir string) *Store {
	return &Store{
		Monitor: NewFile[MonitorState](filepath.Join(dir, MonitorStateFilename)),
		Monthly: NewFile[MonthlyBuildState](filepath.Join(dir, MonthlyBuildStateFilename)),
	}
}

// Load reads both state files without locking them
func (s *Store) Load() (MonitorState, MonthlyBuildState, error) {
	monitor, err := s.Monitor.Load()
	if err != nil {
		return MonitorState{}, MonthlyBuildState{}, err
	}
	monthly, err := s.Monthly.Load()
	if err != nil {
		return MonitorState{}, MonthlyBuildState{}, err
	}
	return monitor, monthly, nil
}

// Update locks both files, loads them, and hands them to fn. Both files are written
// back only if fn reports a change. Locks are always taken in the same order.
func (s *Store) Update(fn func(monitor *MonitorState, monthly *MonthlyBuildState) (bool, error)) error {
	unlockMonitor, err := s.Monitor.Lock()
	if err != nil {
		return err
	}
	defer func() {
		_ = unlockMonitor()
	}()

	unlockMonthly, err := s.Monthly.Lock()
	if err != nil {
		return err
	}
	defer func() {
		_ = unlockMonthly()
	}()

	monitor, monthly, err := s.Load()
	if err != nil {
		return err
	}

	changed, err := fn(&monitor, &monthly)
	if err != nil || !changed {
		return err
	}

	if err := s.Monitor.Save(monitor); err != nil {
		return err
	}
	return s.Monthly.Save(monthly)
}
