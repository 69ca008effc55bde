package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpdate = errors.New("update failed")

func TestFile_Load(t *testing.T) {
	tests := map[string]struct {
		content     *string
		expected    MonthlyBuildState
		expectedErr bool
	}{
		"missing file returns zero value": {
			content:  nil,
			expected: MonthlyBuildState{},
		},
		"empty file returns zero value": {
			content:  strPtr(""),
			expected: MonthlyBuildState{},
		},
		"missing fields default to zero values": {
			content:  strPtr(`{"current_month": "2025-02"}`),
			expected: MonthlyBuildState{CurrentMonth: "2025-02"},
		},
		"unknown fields are ignored": {
			content:  strPtr(`{"current_month": "2025-02", "releases_this_month": 2, "operator_note": "x"}`),
			expected: MonthlyBuildState{CurrentMonth: "2025-02", ReleasesThisMonth: 2},
		},
		"hand edited file with comments and trailing comma": {
			content: strPtr(`{
				// reset by hand
				"current_month": "2025-02",
				"built_this_month": true,
			}`),
			expected: MonthlyBuildState{CurrentMonth: "2025-02", BuiltThisMonth: true},
		},
		"malformed file returns error": {
			content:     strPtr(`{"current_month": `),
			expectedErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), MonthlyBuildStateFilename)
			if tc.content != nil {
				require.Nil(t, os.WriteFile(path, []byte(*tc.content), 0o644))
			}

			output, err := NewFile[MonthlyBuildState](path).Load()
			if tc.expectedErr {
				assert.NotNil(t, err)
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, tc.expected, output)
		})
	}
}

func TestFile_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	f := NewFile[MonitorState](filepath.Join(dir, MonitorStateFilename))
	s := MonitorState{LastTag: "2025020100", LastBuildTag: "2025020100", LastCheck: "2025-02-01T10:00:00Z"}

	require.Nil(t, f.Save(s))
	loaded, err := f.Load()
	assert.Nil(t, err)
	assert.Equal(t, s, loaded)

	entries, err := os.ReadDir(dir)
	assert.Nil(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFile_Lock(t *testing.T) {
	f := NewFile[MonitorState](filepath.Join(t.TempDir(), MonitorStateFilename))

	unlock, err := f.Lock()
	require.Nil(t, err)

	_, err = f.Lock()
	assert.ErrorIs(t, err, ErrLocked)

	assert.Nil(t, unlock())
	unlock, err = f.Lock()
	assert.Nil(t, err)
	assert.Nil(t, unlock())
}

func TestStore_Update(t *testing.T) {
	tests := map[string]struct {
		changed       bool
		err           error
		expectWritten bool
	}{
		"changed state is written": {
			changed:       true,
			expectWritten: true,
		},
		"unchanged state is not written": {
			changed:       false,
			expectWritten: false,
		},
		"error is returned and nothing is written": {
			changed:       true,
			err:           errUpdate,
			expectWritten: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir)

			err := store.Update(func(monitor *MonitorState, monthly *MonthlyBuildState) (bool, error) {
				monitor.LastTag = "2025020100"
				monthly.CurrentMonth = "2025-02"
				monthly.ReleasesThisMonth = 1
				return tc.changed, tc.err
			})
			assert.ErrorIs(t, err, tc.err)

			_, statErr := os.Stat(filepath.Join(dir, MonitorStateFilename))
			assert.Equal(t, tc.expectWritten, statErr == nil)
			_, statErr = os.Stat(filepath.Join(dir, MonthlyBuildStateFilename))
			assert.Equal(t, tc.expectWritten, statErr == nil)

			monitor, monthly, err := store.Load()
			assert.Nil(t, err)
			if tc.expectWritten {
				assert.Equal(t, "2025020100", monitor.LastTag)
				assert.Equal(t, 1, monthly.ReleasesThisMonth)
			} else {
				assert.Equal(t, MonitorState{}, monitor)
				assert.Equal(t, MonthlyBuildState{}, monthly)
			}
		})
	}
}

func TestStore_UpdateWhileLocked(t *testing.T) {
	store := NewStore(t.TempDir())
	unlock, err := store.Monthly.Lock()
	require.Nil(t, err)
	defer func() {
		_ = unlock()
	}()

	called := false
	err = store.Update(func(monitor *MonitorState, monthly *MonthlyBuildState) (bool, error) {
		called = true
		return true, nil
	})
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, called)
}

func TestMonitorState_CheckedAt(t *testing.T) {
	_, ok := MonitorState{}.CheckedAt()
	assert.False(t, ok)

	_, ok = MonitorState{LastCheck: "yesterday"}.CheckedAt()
	assert.False(t, ok)

	checked, ok := MonitorState{LastCheck: "2025-02-01T10:00:00Z"}.CheckedAt()
	assert.True(t, ok)
	assert.Equal(t, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), checked.UTC())
}

func strPtr(s string) *string {
	return &s
}
