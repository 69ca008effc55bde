package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/dan-v/rattlesnakeos-builder/internal/config"
	"github.com/dan-v/rattlesnakeos-builder/internal/devices"
	"github.com/dan-v/rattlesnakeos-builder/internal/notify"
	"github.com/dan-v/rattlesnakeos-builder/internal/runner"
	"github.com/dan-v/rattlesnakeos-builder/internal/templates"
	"github.com/dan-v/rattlesnakeos-builder/internal/tools"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RootInstaller provides avbroot and Magisk
type RootInstaller interface {
	Installed() bool
	Paths() tools.RootPaths
	Ensure(ctx context.Context) (tools.RootPaths, error)
}

// SummaryWriter writes the release summary into a release directory
type SummaryWriter interface {
	WriteSummary(dir string, summary *templates.Summary) error
}

// ReleaseUploader publishes a release directory
type ReleaseUploader interface {
	UploadDir(ctx context.Context, dir, prefix string) error
}

// Orchestrator runs the phases of a build for every configured target
type Orchestrator struct {
	config    *config.Config
	phases    Phases
	devices   *devices.SupportedDevices
	runner    runner.Runner
	clock     clock.Clock
	rootTools RootInstaller
	summary   SummaryWriter
	uploader  ReleaseUploader
	notifier  notify.Notifier
	version   string

	runID     string
	rootPaths *tools.RootPaths
	failed    map[string]error
}

// New returns an initialized Orchestrator. uploader may be nil to keep releases local.
func New(cfg *config.Config, phases Phases, supported *devices.SupportedDevices, r runner.Runner, clk clock.Clock,
	rootTools RootInstaller, summary SummaryWriter, uploader ReleaseUploader, notifier notify.Notifier, version string) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if len(phases) == 0 {
		phases = DefaultPhases()
	}
	return &Orchestrator{
		config:    cfg,
		phases:    phases,
		devices:   supported,
		runner:    r,
		clock:     clk,
		rootTools: rootTools,
		summary:   summary,
		uploader:  uploader,
		notifier:  notifier,
		version:   version,
	}
}

type step struct {
	phase     Phase
	global    func(ctx context.Context) error
	perTarget func(ctx context.Context, target string) error
}

func (o *Orchestrator) steps() map[Phase]step {
	return map[Phase]step{
		PhaseSync:                 {phase: PhaseSync, global: o.sync},
		PhaseVendorExtractPrereqs: {phase: PhaseVendorExtractPrereqs, global: o.vendorExtractPrereqs},
		PhaseAapt2Build:           {phase: PhaseAapt2Build, global: o.aapt2Build},
		PhaseVendorExtract:        {phase: PhaseVendorExtract, perTarget: o.vendorExtract},
		PhaseCustomize:            {phase: PhaseCustomize, global: o.customize},
		PhaseKeys:                 {phase: PhaseKeys, perTarget: o.keys},
		PhaseKernel:               {phase: PhaseKernel, perTarget: o.kernel},
		PhaseROM:                  {phase: PhaseROM, perTarget: o.rom},
		PhaseRootPatch:            {phase: PhaseRootPatch, perTarget: o.rootPatch},
		PhaseReleaseSummary:       {phase: PhaseReleaseSummary, global: o.releaseSummary},
	}
}

// Plan returns the phases that will run, in order. Every prerequisite is checked up
// front and all unmet ones are reported together.
func (o *Orchestrator) Plan() ([]Phase, error) {
	selected := Phases{}
	for phase := range o.phases {
		selected[phase] = true
	}
	if selected.Enabled(PhaseROM) && o.config.Root {
		selected[PhaseRootPatch] = true
	}
	if selected.Enabled(PhaseROM) || selected.Enabled(PhaseRootPatch) {
		selected[PhaseReleaseSummary] = true
	}

	var problems []Problem
	if !selected.Enabled(PhaseSync) && !exists(filepath.Join(o.config.SourceDir, ".repo")) {
		for _, phase := range selected.List() {
			// both work on release directories only
			if phase == PhaseReleaseSummary || phase == PhaseRootPatch {
				continue
			}
			problems = append(problems, Problem{Phase: phase, Missing: fmt.Sprintf("sync or an existing checkout in %v", o.config.SourceDir)})
			break
		}
	}
	if selected.Enabled(PhaseVendorExtract) {
		if !selected.Enabled(PhaseAapt2Build) && !exists(o.arsclibPath()) {
			problems = append(problems, Problem{Phase: PhaseVendorExtract, Missing: fmt.Sprintf("aapt2-build or an existing %v", o.arsclibPath())})
		}
		if !selected.Enabled(PhaseVendorExtractPrereqs) && !exists(o.adevtoolModulesPath()) {
			problems = append(problems, Problem{Phase: PhaseVendorExtract, Missing: fmt.Sprintf("vendor-extract-prereqs or an existing %v", o.adevtoolModulesPath())})
		}
	}
	needsRootTools := (selected.Enabled(PhaseKeys) && o.config.Root) || selected.Enabled(PhaseRootPatch)
	if needsRootTools && !o.config.DownloadTools && !o.rootTools.Installed() {
		phase := PhaseKeys
		if !selected.Enabled(PhaseKeys) || !o.config.Root {
			phase = PhaseRootPatch
		}
		problems = append(problems, Problem{Phase: phase, Missing: fmt.Sprintf("download-tools or avbroot and Magisk installed in %v", o.config.ToolsDir)})
	}
	for _, target := range o.config.Targets() {
		if selected.Enabled(PhaseROM) && !selected.Enabled(PhaseKeys) && !exists(filepath.Join(o.targetKeysDir(target), "releasekey.x509.pem")) {
			problems = append(problems, Problem{Phase: PhaseROM, Missing: fmt.Sprintf("keys or existing signing keys for %v", target)})
		}
		if selected.Enabled(PhaseRootPatch) && !selected.Enabled(PhaseROM) && !exists(o.targetReleaseDir(target)) {
			problems = append(problems, Problem{Phase: PhaseRootPatch, Missing: fmt.Sprintf("rom or an existing release for %v", target)})
		}
	}

	if len(problems) > 0 {
		return nil, &PrerequisiteError{Problems: problems}
	}
	return selected.List(), nil
}

// Run validates the configuration, plans the phases and runs them. A failing global
// phase stops the run. A failing target is dropped from the remaining phases while the
// other targets continue, and every target failure is returned together.
//
// Cancelling ctx never interrupts a running step. It is checked before every phase and
// every target, and the run stops there with ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.config.Validate(); err != nil {
		return err
	}
	plan, err := o.Plan()
	if err != nil {
		return err
	}

	o.runID = uuid.NewString()
	o.failed = map[string]error{}
	o.rootPaths = nil
	logger := log.WithField("run", o.runID)
	logger.Infof("building %v %v for %v (phases: %v)", o.config.OSName, o.config.Tag, o.config.Devices, NewPhases(plan...))
	o.warnUnknownTargets()

	steps := o.steps()
	for _, phase := range plan {
		if ctx.Err() != nil {
			return o.cancelled(ctx, phase, "")
		}
		s := steps[phase]
		if s.global != nil {
			if err := o.runGlobal(ctx, s); err != nil {
				o.notify(ctx, fmt.Sprintf("build of %v failed: %v", o.config.Tag, err))
				return errors.Join(append(o.targetErrors(), err)...)
			}
			continue
		}
		if err := o.runPerTarget(ctx, s); err != nil {
			return err
		}
	}

	if errs := o.targetErrors(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Infof("build of %v finished", o.config.Tag)
	o.notify(ctx, fmt.Sprintf("build of %v finished for %v", o.config.Tag, o.config.Devices))
	return nil
}

func (o *Orchestrator) cancelled(ctx context.Context, phase Phase, target string) error {
	at := string(phase)
	if target != "" {
		at = fmt.Sprintf("%v for %v", phase, target)
	}
	err := fmt.Errorf("%w before %v", ErrCancelled, at)
	log.WithField("run", o.runID).Warn(err)
	o.notify(ctx, fmt.Sprintf("build of %v cancelled before %v", o.config.Tag, at))
	return errors.Join(append(o.targetErrors(), err)...)
}

func (o *Orchestrator) runGlobal(ctx context.Context, s step) error {
	logger := log.WithFields(log.Fields{"run": o.runID, "phase": s.phase})
	logger.Info("phase started")
	if err := s.global(context.WithoutCancel(ctx)); err != nil {
		logger.WithError(err).Error("phase failed")
		return &PhaseError{Phase: s.phase, Err: err}
	}
	logger.Info("phase finished")
	o.notify(ctx, fmt.Sprintf("%v of %v finished", s.phase, o.config.Tag))
	return nil
}

func (o *Orchestrator) runPerTarget(ctx context.Context, s step) error {
	for _, target := range o.config.Targets() {
		logger := log.WithFields(log.Fields{"run": o.runID, "phase": s.phase, "target": target})
		if _, failed := o.failed[target]; failed {
			logger.Warn("skipping phase as target already failed")
			continue
		}
		if ctx.Err() != nil {
			return o.cancelled(ctx, s.phase, target)
		}

		logger.Info("phase started")
		if err := s.perTarget(context.WithoutCancel(ctx), target); err != nil {
			logger.WithError(err).Error("phase failed")
			phaseErr := &PhaseError{Phase: s.phase, Target: target, Err: err}
			o.failed[target] = phaseErr
			o.notify(ctx, fmt.Sprintf("build of %v for %v failed: %v", o.config.Tag, target, phaseErr))
			continue
		}
		logger.Info("phase finished")
		o.notify(ctx, fmt.Sprintf("%v of %v for %v finished", s.phase, o.config.Tag, target))
	}
	return nil
}

func (o *Orchestrator) targetErrors() []error {
	var errs []error
	for _, target := range o.config.Targets() {
		if err, ok := o.failed[target]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

func (o *Orchestrator) warnUnknownTargets() {
	if o.devices == nil {
		return
	}
	for _, target := range o.config.Targets() {
		if !o.devices.IsSupportedDevice(target) {
			log.Warnf("target %v is not a known device, kernel and root mappings are unavailable for it", target)
		}
	}
}

// notify is best effort and still delivers after ctx was cancelled
func (o *Orchestrator) notify(ctx context.Context, message string) {
	notify.Send(context.WithoutCancel(ctx), o.notifier, fmt.Sprintf("[%v] %v", o.config.OSName, message))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
