package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	avbrootTarget = "x86_64-unknown-linux-gnu"
	avbrootDir    = "avbroot"
	magiskAPK     = "magisk.apk"
)

// ErrAvbrootMissing is returned if the avbroot archive did not contain the avbroot binary
var ErrAvbrootMissing = errors.New("avbroot binary not found in release archive")

// RootPaths are the installed locations of the root patching tools
type RootPaths struct {
	Avbroot string
	Magisk  string
}

// RootTools installs avbroot and Magisk into a tools directory
type RootTools struct {
	Dir            string
	AvbrootRepo    string
	MagiskRepo     string
	AvbrootVersion string
	MagiskVersion  string
	client         *Client
}

// NewRootTools returns RootTools installing into dir. Empty versions resolve to the latest release.
func NewRootTools(client *Client, dir, avbrootRepo, avbrootVersion, magiskRepo, magiskVersion string) *RootTools {
	return &RootTools{
		Dir:            dir,
		AvbrootRepo:    avbrootRepo,
		MagiskRepo:     magiskRepo,
		AvbrootVersion: avbrootVersion,
		MagiskVersion:  magiskVersion,
		client:         client,
	}
}

// Paths returns where the tools are installed, whether or not they exist yet
func (r *RootTools) Paths() RootPaths {
	return RootPaths{
		Avbroot: filepath.Join(r.Dir, avbrootDir, "avbroot"),
		Magisk:  filepath.Join(r.Dir, magiskAPK),
	}
}

// Installed reports whether both tools are present
func (r *RootTools) Installed() bool {
	paths := r.Paths()
	for _, p := range []string{paths.Avbroot, paths.Magisk} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Ensure resolves tool versions, downloads release artifacts not cached yet and installs them
func (r *RootTools) Ensure(ctx context.Context) (RootPaths, error) {
	avbrootTag, err := r.resolve(ctx, r.AvbrootRepo, r.AvbrootVersion)
	if err != nil {
		return RootPaths{}, err
	}
	magiskTag, err := r.resolve(ctx, r.MagiskRepo, r.MagiskVersion)
	if err != nil {
		return RootPaths{}, err
	}
	log.Infof("Using avbroot %v and Magisk %v", avbrootTag, magiskTag)

	paths := r.Paths()

	avbrootVersion := strings.TrimPrefix(avbrootTag, "v")
	avbrootZip := fmt.Sprintf("avbroot-%v-%v.zip", avbrootVersion, avbrootTarget)
	avbrootZipPath := filepath.Join(r.Dir, avbrootZip)
	if err := r.client.Download(ctx, r.client.AssetURL(r.AvbrootRepo, avbrootTag, avbrootZip), avbrootZipPath); err != nil {
		return RootPaths{}, fmt.Errorf("failed to download avbroot: %w", err)
	}
	extractDir := filepath.Dir(paths.Avbroot)
	if err := os.RemoveAll(extractDir); err != nil {
		return RootPaths{}, err
	}
	if err := Unzip(avbrootZipPath, extractDir); err != nil {
		return RootPaths{}, fmt.Errorf("failed to extract avbroot: %w", err)
	}
	if _, err := os.Stat(paths.Avbroot); err != nil {
		return RootPaths{}, fmt.Errorf("'%v': %w", avbrootZip, ErrAvbrootMissing)
	}
	if err := os.Chmod(paths.Avbroot, 0700); err != nil {
		return RootPaths{}, err
	}

	magiskName := fmt.Sprintf("Magisk-%v.apk", magiskTag)
	magiskPath := filepath.Join(r.Dir, magiskName)
	if err := r.client.Download(ctx, r.client.AssetURL(r.MagiskRepo, magiskTag, magiskName), magiskPath); err != nil {
		return RootPaths{}, fmt.Errorf("failed to download Magisk: %w", err)
	}
	if err := copyFile(magiskPath, paths.Magisk); err != nil {
		return RootPaths{}, err
	}

	return paths, nil
}

func (r *RootTools) resolve(ctx context.Context, repo, version string) (string, error) {
	if version != "" {
		return version, nil
	}
	return r.client.LatestVersion(ctx, repo)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
