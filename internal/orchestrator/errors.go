package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Process exit codes of a build
const (
	ExitSuccess = 0
	// ExitFailure covers bad input, unmet prerequisites, sync, patch and key failures
	ExitFailure = 1
	// ExitBuildFailure covers compile and packaging failures
	ExitBuildFailure = 2
)

// ErrCancelled is returned when a build stops between steps after its context was cancelled
var ErrCancelled = errors.New("build cancelled")

// Problem is a single unmet phase dependency
type Problem struct {
	Phase   Phase
	Missing string
}

func (p Problem) String() string {
	return fmt.Sprintf("%v requires %v", p.Phase, p.Missing)
}

// PrerequisiteError lists every unmet phase dependency found while planning
type PrerequisiteError struct {
	Problems []Problem
}

func (e *PrerequisiteError) Error() string {
	var lines []string
	for _, p := range e.Problems {
		lines = append(lines, p.String())
	}
	return "unmet phase prerequisites: " + strings.Join(lines, "; ")
}

// PhaseError is returned when a phase fails. Target is empty for phases that do not
// run per target.
type PhaseError struct {
	Phase  Phase
	Target string
	Err    error
}

func (e *PhaseError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%v failed for %v: %v", e.Phase, e.Target, e.Err)
	}
	return fmt.Sprintf("%v failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ExitCode maps the result of a build to a process exit code. When several targets
// failed the most severe code wins.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		code := ExitSuccess
		for _, e := range joined.Unwrap() {
			if c := ExitCode(e); c > code {
				code = c
			}
		}
		if code == ExitSuccess {
			code = ExitFailure
		}
		return code
	}

	var phaseErr *PhaseError
	if errors.As(err, &phaseErr) {
		switch phaseErr.Phase {
		case PhaseKernel, PhaseROM, PhaseRootPatch:
			return ExitBuildFailure
		}
	}
	return ExitFailure
}
