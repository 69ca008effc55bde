package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dan-v/rattlesnakeos-builder/internal/orchestrator"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var phaseFlags = []struct {
	flag  string
	phase orchestrator.Phase
	usage string
}{
	{"sync", orchestrator.PhaseSync, "sync the platform tree"},
	{"vendor-prereqs", orchestrator.PhaseVendorExtractPrereqs, "install the vendor extraction tooling"},
	{"aapt2", orchestrator.PhaseAapt2Build, "build aapt2 for vendor extraction"},
	{"vendor", orchestrator.PhaseVendorExtract, "extract vendor files for every device"},
	{"customize", orchestrator.PhaseCustomize, "apply patches and run customization scripts"},
	{"keys", orchestrator.PhaseKeys, "generate missing signing keys"},
	{"kernel", orchestrator.PhaseKernel, "build the kernel for every device with a kernel mapping"},
	{"rom", orchestrator.PhaseROM, "build and sign the release for every device"},
	{"root-patch", orchestrator.PhaseRootPatch, "patch existing OTA releases with Magisk"},
}

var (
	selectedPhases = map[orchestrator.Phase]*bool{}
	phaseList      []string
)

func init() {
	rootCmd.AddCommand(buildCmd)

	flags := buildCmd.Flags()
	for _, p := range phaseFlags {
		selectedPhases[p.phase] = flags.Bool(p.flag, false, p.usage)
	}
	flags.StringSliceVar(&phaseList, "phases", nil, "comma separated phases to run (e.g. keys,rom), combined with the phase flags")
	flags.Bool("download-tools", false, "download avbroot and Magisk when missing (default true)")
	flags.String("avbroot-version", "", "avbroot release to use (default latest)")
	flags.String("magisk-version", "", "Magisk release to use (default latest)")
	bindFlags(flags, "download-tools", "avbroot-version", "magisk-version")
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "run a build once. without phase flags the default phases are run.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		phases, err := orchestrator.ParsePhases(phaseList)
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range phaseFlags {
			if *selectedPhases[p.phase] {
				phases[p.phase] = true
			}
		}

		cfg := loadConfig()
		r, closeLog := newRunner(cfg)
		o, err := newOrchestrator(ctx, cfg, phases, r, newNotifier(ctx, cfg, r))
		if err != nil {
			log.Fatal(err)
		}

		err = o.Run(ctx)
		closeLog()
		if err != nil {
			log.WithError(err).Error("build failed")
		}
		os.Exit(orchestrator.ExitCode(err))
	},
}
