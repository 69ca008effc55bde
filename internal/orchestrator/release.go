package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dan-v/rattlesnakeos-builder/internal/templates"
	log "github.com/sirupsen/logrus"
)

func (o *Orchestrator) releaseSummary(ctx context.Context) error {
	summary := &templates.Summary{
		RunID:       o.runID,
		Version:     o.version,
		OSName:      o.config.OSName,
		Tag:         o.config.Tag,
		BuildID:     o.config.BuildID,
		OSVersion:   o.config.OSVersion,
		BuildNumber: o.config.ReleaseNumber(),
		GeneratedAt: o.clock.Now(),
	}

	for _, target := range o.config.Targets() {
		if _, failed := o.failed[target]; failed {
			summary.Failed = append(summary.Failed, target)
			continue
		}
		dir := o.targetReleaseDir(target)
		if !exists(dir) {
			log.Warnf("no release directory for %v, leaving it out of the summary", target)
			continue
		}
		artifacts, err := collectArtifacts(dir)
		if err != nil {
			return fmt.Errorf("failed to collect artifacts of %v: %w", target, err)
		}

		targetSummary := templates.TargetSummary{Name: target, Friendly: target, Artifacts: artifacts}
		if o.devices != nil && o.devices.IsSupportedDevice(target) {
			targetSummary.Friendly = o.devices.GetDeviceDetails(target).Friendly
		}
		for _, a := range artifacts {
			if strings.HasSuffix(a.Name, ".patched.zip") {
				targetSummary.Rooted = true
			}
		}
		summary.Targets = append(summary.Targets, targetSummary)
	}

	root := o.releaseRoot()
	if err := o.summary.WriteSummary(root, summary); err != nil {
		return fmt.Errorf("failed to write release summary: %w", err)
	}
	log.Infof("release summary written to %v", root)

	if o.uploader == nil {
		return nil
	}
	if err := o.uploader.UploadDir(ctx, root, o.config.ReleaseNumber()); err != nil {
		return fmt.Errorf("failed to upload release: %w", err)
	}
	return nil
}

// collectArtifacts returns name, size and checksum of every regular file in dir
func collectArtifacts(dir string) ([]templates.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var artifacts []templates.Artifact
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		sum, size, err := checksum(path)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, templates.Artifact{Name: entry.Name(), Size: size, SHA256: sum})
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

func checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
