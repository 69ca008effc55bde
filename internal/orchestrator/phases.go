package orchestrator

import (
	"fmt"
	"strings"
)

// Phase is a named step of a build
type Phase string

// Phases that can be selected independently
const (
	PhaseSync                 Phase = "sync"
	PhaseVendorExtractPrereqs Phase = "vendor-extract-prereqs"
	PhaseAapt2Build           Phase = "aapt2-build"
	PhaseVendorExtract        Phase = "vendor-extract"
	PhaseCustomize            Phase = "customize"
	PhaseKeys                 Phase = "keys"
	PhaseKernel               Phase = "kernel"
	PhaseROM                  Phase = "rom"
	// PhaseRootPatch runs after rom when root is enabled, or alone on existing releases
	PhaseRootPatch Phase = "root-patch"
	// PhaseReleaseSummary always follows rom and root-patch
	PhaseReleaseSummary Phase = "release-summary"
)

// Order is the sequence phases run in
var Order = []Phase{
	PhaseSync,
	PhaseVendorExtractPrereqs,
	PhaseAapt2Build,
	PhaseVendorExtract,
	PhaseCustomize,
	PhaseKeys,
	PhaseKernel,
	PhaseROM,
	PhaseRootPatch,
	PhaseReleaseSummary,
}

// Phases is a set of selected phases
type Phases map[Phase]bool

// DefaultPhases is the subset run when no phase is selected explicitly. The kernel is
// opt-in as prebuilt kernels ship with the source tree.
func DefaultPhases() Phases {
	return NewPhases(
		PhaseSync,
		PhaseVendorExtractPrereqs,
		PhaseAapt2Build,
		PhaseVendorExtract,
		PhaseCustomize,
		PhaseKeys,
		PhaseROM,
	)
}

// NewPhases returns a set holding phases
func NewPhases(phases ...Phase) Phases {
	p := Phases{}
	for _, phase := range phases {
		p[phase] = true
	}
	return p
}

// ParsePhases parses phase names such as "sync,rom"
func ParsePhases(names []string) (Phases, error) {
	known := map[Phase]bool{}
	for _, phase := range Order {
		known[phase] = true
	}

	p := Phases{}
	for _, name := range names {
		phase := Phase(strings.TrimSpace(name))
		if phase == "" {
			continue
		}
		if !known[phase] {
			return nil, fmt.Errorf("unknown phase %q", phase)
		}
		p[phase] = true
	}
	return p, nil
}

// Enabled reports whether phase is selected
func (p Phases) Enabled(phase Phase) bool {
	return p[phase]
}

// List returns the selected phases in run order
func (p Phases) List() []Phase {
	var out []Phase
	for _, phase := range Order {
		if p[phase] {
			out = append(out, phase)
		}
	}
	return out
}

func (p Phases) String() string {
	var names []string
	for _, phase := range p.List() {
		names = append(names, string(phase))
	}
	return strings.Join(names, ",")
}
