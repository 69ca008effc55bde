package cmd

import (
	"context"
	"os"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/dan-v/rattlesnakeos-builder/internal/cloudaws"
	"github.com/dan-v/rattlesnakeos-builder/internal/config"
	"github.com/dan-v/rattlesnakeos-builder/internal/devices"
	"github.com/dan-v/rattlesnakeos-builder/internal/notify"
	"github.com/dan-v/rattlesnakeos-builder/internal/orchestrator"
	"github.com/dan-v/rattlesnakeos-builder/internal/runner"
	"github.com/dan-v/rattlesnakeos-builder/internal/templates"
	"github.com/dan-v/rattlesnakeos-builder/internal/tools"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const notificationTitle = "rattlesnakeos-builder"

func loadConfig() *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// newRunner returns the subprocess runner and a func releasing the build log
func newRunner(cfg *config.Config) (*runner.Exec, func()) {
	r := runner.New()
	if cfg.BuildLog == "" {
		return r, func() {}
	}
	f, err := os.OpenFile(cfg.BuildLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("failed to open build log %v: %v", cfg.BuildLog, err)
	}
	r.Output = f
	return r, func() {
		_ = f.Close()
	}
}

// newNotifier combines every configured notification endpoint. An endpoint that cannot be
// set up is logged and left out.
func newNotifier(ctx context.Context, cfg *config.Config, r runner.Runner) notify.Notifier {
	var notifiers notify.Multi
	if len(cfg.AppriseURLs) > 0 {
		notifiers = append(notifiers, notify.NewApprise(r, notificationTitle, cfg.AppriseURLs))
	}
	if cfg.SNSTopicARN != "" {
		publisher, err := cloudaws.NewSNSPublisher(ctx, cfg.SNSTopicARN, cfg.AWSRegion)
		if err != nil {
			log.WithError(err).Warn("sns notifications disabled")
		} else {
			notifiers = append(notifiers, publisher)
		}
	}
	return notifiers
}

func newOrchestrator(ctx context.Context, cfg *config.Config, phases orchestrator.Phases, r runner.Runner, notifier notify.Notifier) (*orchestrator.Orchestrator, error) {
	supported, err := devices.Pixel()
	if err != nil {
		return nil, err
	}

	clk := clock.Real()
	rootTools := tools.NewRootTools(tools.New(nil, clk), cfg.ToolsDir, cfg.AvbrootRepo, cfg.AvbrootVersion, cfg.MagiskRepo, cfg.MagiskVersion)

	var uploader orchestrator.ReleaseUploader
	if cfg.ReleaseBucket != "" {
		u, err := cloudaws.NewReleaseUploader(ctx, cfg.ReleaseBucket, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		uploader = u
	}

	return orchestrator.New(cfg, phases, supported, r, clk, rootTools, templates.New(templatesFiles), uploader, notifier, version), nil
}
