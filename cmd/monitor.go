package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/dan-v/rattlesnakeos-builder/internal/monitor"
	"github.com/dan-v/rattlesnakeos-builder/internal/orchestrator"
	"github.com/dan-v/rattlesnakeos-builder/internal/state"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(monitorStatusCmd)

	flags := monitorCmd.PersistentFlags()
	flags.String("build-mode", "", "on_release builds every new tag, monthly builds the Nth release of each month (default on_release)")
	flags.Int("monthly-ordinal", 0, "release of the month that triggers a build in monthly mode (default 1)")
	flags.Duration("poll-interval", 0, "wait between release checks (default 1h)")
	flags.Bool("monitor-enabled", false, "poll for releases; when disabled a single build runs")
	flags.String("tag-repo", "", "repository polled for release tags")
	flags.String("tag-pattern", "", "regular expression release tags must match")
	flags.String("state-dir", "", "directory holding the monitor state files")
	flags.String("metrics-textfile", "", "file monitor metrics are written to in prometheus text format")
	bindFlags(flags, "build-mode", "monthly-ordinal", "poll-interval", "monitor-enabled", "tag-repo", "tag-pattern", "state-dir", "metrics-textfile")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "watch upstream release tags and build new releases",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig()
		if err := cfg.ValidateMonitor(); err != nil {
			log.Fatal(err)
		}

		source, err := monitor.NewGitTagSource(cfg.TagRepo, cfg.TagPattern)
		if err != nil {
			log.Fatal(err)
		}

		r, closeLog := newRunner(cfg)
		notifier := newNotifier(ctx, cfg, r)
		builder := monitor.BuilderFunc(func(ctx context.Context, tag string) error {
			buildCfg := cfg
			if tag != "" {
				buildCfg = cfg.WithTag(tag)
			}
			o, err := newOrchestrator(ctx, buildCfg, nil, r, notifier)
			if err != nil {
				return err
			}
			return o.Run(ctx)
		})

		m := monitor.New(monitor.Config{
			Mode:            cfg.BuildMode,
			MonthlyOrdinal:  cfg.MonthlyOrdinal,
			Interval:        cfg.PollInterval,
			Enabled:         cfg.MonitorEnabled,
			MetricsTextfile: cfg.MetricsTextfile,
		}, source, state.NewStore(cfg.StateDir), builder, clock.Real(), notifier)

		err = m.Run(ctx)
		closeLog()
		if err != nil {
			log.WithError(err).Error("build failed")
		}
		os.Exit(orchestrator.ExitCode(err))
	},
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the persisted release monitor state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		m := monitor.New(monitor.Config{}, nil, state.NewStore(cfg.StateDir), nil, clock.Real(), nil)
		monitorState, monthlyState, err := m.Status()
		if err != nil {
			log.Fatal(err)
		}

		status := struct {
			Monitor   state.MonitorState      `yaml:"monitor"`
			Monthly   state.MonthlyBuildState `yaml:"monthly"`
			LastCheck string                  `yaml:"last_check_local,omitempty"`
			Age       string                  `yaml:"last_check_age,omitempty"`
		}{Monitor: monitorState, Monthly: monthlyState}
		if checked, ok := monitorState.CheckedAt(); ok {
			status.LastCheck = checked.Local().Format(time.RFC1123)
			status.Age = time.Since(checked).Round(time.Second).String()
		}

		out, err := yaml.Marshal(status)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(string(out))
	},
}
