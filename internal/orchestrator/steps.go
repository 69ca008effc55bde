package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dan-v/rattlesnakeos-builder/internal/devices"
	"github.com/dan-v/rattlesnakeos-builder/internal/retry"
	"github.com/dan-v/rattlesnakeos-builder/internal/runner"
	"github.com/dan-v/rattlesnakeos-builder/internal/tools"
	log "github.com/sirupsen/logrus"
)

const (
	// sdkLunchTarget is the product lunched for host tools such as arsclib
	sdkLunchTarget = "sdk_phone64_x86_64-cur-user"
	envsetup       = "source build/envsetup.sh"
)

var (
	// platformKeys are generated with make_key for every target
	platformKeys = []string{"releasekey", "platform", "shared", "media", "networkstack", "sdk_sandbox", "bluetooth", "nfc"}
)

func (o *Orchestrator) arsclibPath() string {
	return filepath.Join(o.config.SourceDir, "out", "host", "linux-x86", "framework", "arsclib.jar")
}

func (o *Orchestrator) adevtoolModulesPath() string {
	return filepath.Join(o.config.SourceDir, "vendor", "adevtool", "node_modules")
}

func (o *Orchestrator) targetKeysDir(target string) string {
	return filepath.Join(o.config.KeysDir, target)
}

func (o *Orchestrator) releaseRoot() string {
	return filepath.Join(o.config.ReleaseDir, o.config.ReleaseNumber())
}

func (o *Orchestrator) targetReleaseDir(target string) string {
	return filepath.Join(o.releaseRoot(), target)
}

// sourceReleaseDir is where generate-release.sh leaves its output
func (o *Orchestrator) sourceReleaseDir(target string) string {
	number := o.config.ReleaseNumber()
	return filepath.Join(o.config.SourceDir, "releases", number, fmt.Sprintf("release-%v-%v", target, number))
}

// kernelPrebuiltDir is where the platform tree expects the kernel images of target
func (o *Orchestrator) kernelPrebuiltDir(target string) string {
	family := target
	if d := o.devices.GetDeviceDetails(target); d != nil {
		family = d.Family
	}
	return filepath.Join(o.config.SourceDir, "device", "google", family+"-kernels")
}

func (o *Orchestrator) jobsArg() []string {
	if o.config.Jobs > 0 {
		return []string{fmt.Sprintf("-j%d", o.config.Jobs)}
	}
	return nil
}

func (o *Orchestrator) keyEnv(target string) []string {
	return []string{
		"KEY_PASSPHRASE=" + o.config.KeyPassphrase,
		"CERT_SUBJECT=" + o.config.CertificateSubject(),
		"TARGET=" + target,
	}
}

// repoSync checks out manifest at branch into dir, retrying the whole init and sync
func (o *Orchestrator) repoSync(ctx context.Context, op, dir, manifest, branch string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return retry.Do(ctx, op, retry.SyncPolicy, o.clock, func(ctx context.Context) error {
		if err := o.runner.Run(ctx, runner.Command{Name: "repo", Args: []string{"init", "-u", manifest, "-b", branch}, Dir: dir}); err != nil {
			return err
		}
		args := append([]string{"sync", "--force-sync"}, o.jobsArg()...)
		return o.runner.Run(ctx, runner.Command{Name: "repo", Args: args, Dir: dir})
	})
}

func (o *Orchestrator) sync(ctx context.Context) error {
	return o.repoSync(ctx, "source sync", o.config.SourceDir, o.config.ManifestURL, o.config.Tag)
}

func (o *Orchestrator) vendorExtractPrereqs(ctx context.Context) error {
	return o.runner.Run(ctx, runner.Command{
		Name: "yarnpkg",
		Args: []string{"install", "--cwd", "vendor/adevtool"},
		Dir:  o.config.SourceDir,
	})
}

func (o *Orchestrator) aapt2Build(ctx context.Context) error {
	script := fmt.Sprintf("%v && lunch %v && m arsclib", envsetup, sdkLunchTarget)
	return o.runner.Run(ctx, runner.Shell(o.config.SourceDir, script))
}

func (o *Orchestrator) vendorExtract(ctx context.Context, target string) error {
	script := fmt.Sprintf(`%v && lunch %v && vendor/adevtool/bin/run generate-all -d "$TARGET"`, envsetup, sdkLunchTarget)
	return o.runner.Run(ctx, runner.Shell(o.config.SourceDir, script, "TARGET="+target))
}

func (o *Orchestrator) customize(ctx context.Context) error {
	patches, err := sortedGlob(o.config.PatchesDir, "*.patch")
	if err != nil {
		return err
	}
	for _, patch := range patches {
		log.Infof("applying patch %v", filepath.Base(patch))
		cmd := runner.Command{Name: "patch", Args: []string{"-p1", "--forward", "-i", patch}, Dir: o.config.SourceDir}
		if err := o.runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("patch %v: %w", filepath.Base(patch), err)
		}
	}

	scripts, err := sortedGlob(o.config.ScriptsDir, "*.sh")
	if err != nil {
		return err
	}
	for _, script := range scripts {
		log.Infof("running script %v", filepath.Base(script))
		cmd := runner.Command{
			Name: "bash",
			Args: []string{script},
			Dir:  o.config.SourceDir,
			Env: []string{
				"SOURCE_DIR=" + o.config.SourceDir,
				"OS_NAME=" + o.config.OSName,
				"DEVICES=" + o.config.Devices,
				"TAG=" + o.config.Tag,
			},
		}
		if err := o.runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("script %v: %w", filepath.Base(script), err)
		}
	}

	if len(patches) == 0 && len(scripts) == 0 {
		log.Info("no patches or scripts to apply")
	}
	return nil
}

func (o *Orchestrator) keys(ctx context.Context, target string) error {
	dir := o.targetKeysDir(target)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	env := o.keyEnv(target)

	makeKey := filepath.Join(o.config.SourceDir, "development", "tools", "make_key")
	for _, name := range platformKeys {
		if exists(filepath.Join(dir, name+".x509.pem")) {
			continue
		}
		log.Infof("generating %v key for %v", name, target)
		script := fmt.Sprintf(`printf '%%s\n%%s\n' "$KEY_PASSPHRASE" "$KEY_PASSPHRASE" | %q %q "$CERT_SUBJECT" || test -f %q`,
			makeKey, filepath.Join(dir, name), filepath.Join(dir, name+".x509.pem"))
		if err := o.runner.Run(ctx, runner.Shell(dir, script, env...)); err != nil {
			return fmt.Errorf("generate %v key: %w", name, err)
		}
	}

	if !exists(filepath.Join(dir, "avb_pkmd.bin")) {
		log.Infof("generating avb key for %v", target)
		encrypt := "-nocrypt"
		if o.config.KeyPassphrase != "" {
			encrypt = "-scrypt -passout env:KEY_PASSPHRASE"
		}
		avbtool := filepath.Join(o.config.SourceDir, "external", "avb", "avbtool.py")
		script := fmt.Sprintf("openssl genrsa 4096 | openssl pkcs8 -topk8 %v -out avb.pem && %q extract_public_key --key avb.pem --output avb_pkmd.bin",
			encrypt, avbtool)
		if err := o.runner.Run(ctx, runner.Shell(dir, script, env...)); err != nil {
			return fmt.Errorf("generate avb key: %w", err)
		}
	}

	if !o.config.Root {
		return nil
	}
	paths, err := o.ensureRootTools(ctx)
	if err != nil {
		return err
	}
	passArgs := []string{}
	if o.config.KeyPassphrase != "" {
		passArgs = []string{"--pass-env-var", "KEY_PASSPHRASE"}
	}
	rootKeys := []struct {
		file string
		args []string
	}{
		{"avb.key", append([]string{"key", "generate-key", "-o", "avb.key"}, passArgs...)},
		{"ota.key", append([]string{"key", "generate-key", "-o", "ota.key"}, passArgs...)},
		{"ota.crt", append([]string{"key", "generate-cert", "-k", "ota.key", "-o", "ota.crt", "--subject", "CN=" + o.config.CertCommonName}, passArgs...)},
	}
	for _, key := range rootKeys {
		if exists(filepath.Join(dir, key.file)) {
			continue
		}
		cmd := runner.Command{Name: paths.Avbroot, Args: key.args, Dir: dir, Env: env}
		if err := o.runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("generate %v: %w", key.file, err)
		}
	}
	return nil
}

func (o *Orchestrator) kernel(ctx context.Context, target string) error {
	source, ok := o.kernelSource(target)
	if !ok {
		log.Warnf("%v has no kernel mapping, skipping kernel build", target)
		return nil
	}

	branch := source.Branch
	if branch == "" {
		branch = o.config.OSVersion
	}
	dir := filepath.Join(o.config.KernelDir, source.Name)
	if err := o.repoSync(ctx, "kernel sync "+source.Name, dir, source.Manifest, branch); err != nil {
		return err
	}
	if err := o.runner.Run(ctx, runner.Shell(dir, "./"+source.BuildScript)); err != nil {
		return err
	}

	// the ROM build picks up the kernel from the device's prebuilt kernel directory
	dest := o.kernelPrebuiltDir(target)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return o.runner.Run(ctx, runner.Command{Name: "cp", Args: []string{"-a", filepath.Join(dir, source.OutputDir) + "/.", dest}})
}

func (o *Orchestrator) rom(ctx context.Context, target string) error {
	if err := o.linkKeys(); err != nil {
		return err
	}

	env := append(o.keyEnv(target), "BUILD_NUMBER="+o.config.ReleaseNumber())
	lunch := fmt.Sprintf(`%v && lunch "$TARGET-cur-%v"`, envsetup, o.config.BuildVariant)
	jobs := strings.Join(o.jobsArg(), " ")

	build := fmt.Sprintf("%v && m %v vendorbootimage vendorkernelbootimage target-files-package && m %v otatools-package", lunch, jobs, jobs)
	if err := o.runner.Run(ctx, runner.Shell(o.config.SourceDir, build, env...)); err != nil {
		return err
	}

	release := fmt.Sprintf(`%v && script/finalize.sh && script/generate-release.sh "$TARGET" "$BUILD_NUMBER"`, lunch)
	if err := o.runner.Run(ctx, runner.Shell(o.config.SourceDir, release, env...)); err != nil {
		return err
	}

	dest := o.targetReleaseDir(target)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return o.runner.Run(ctx, runner.Command{Name: "cp", Args: []string{"-a", o.sourceReleaseDir(target) + "/.", dest}})
}

// linkKeys exposes the keys directory at the location the release scripts expect
func (o *Orchestrator) linkKeys() error {
	link := filepath.Join(o.config.SourceDir, "keys")
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.MkdirAll(o.config.SourceDir, 0755); err != nil {
		return err
	}
	return os.Symlink(o.config.KeysDir, link)
}

func (o *Orchestrator) rootPatch(ctx context.Context, target string) error {
	preinit, ok := o.preinitDevice(target)
	if !ok {
		log.Warnf("%v has no Magisk preinit device mapping, skipping root patch", target)
		return nil
	}
	paths, err := o.ensureRootTools(ctx)
	if err != nil {
		return err
	}

	ota, err := findOTA(o.targetReleaseDir(target))
	if err != nil {
		return err
	}
	keys := o.targetKeysDir(target)
	args := []string{
		"ota", "patch",
		"--input", ota,
		"--key-avb", filepath.Join(keys, "avb.key"),
		"--key-ota", filepath.Join(keys, "ota.key"),
		"--cert-ota", filepath.Join(keys, "ota.crt"),
		"--magisk", paths.Magisk,
		"--magisk-preinit-device", preinit,
		"--output", strings.TrimSuffix(ota, ".zip") + ".patched.zip",
	}
	if o.config.KeyPassphrase != "" {
		args = append(args, "--pass-avb-env-var", "KEY_PASSPHRASE", "--pass-ota-env-var", "KEY_PASSPHRASE")
	}
	return o.runner.Run(ctx, runner.Command{Name: paths.Avbroot, Args: args, Env: o.keyEnv(target)})
}

func (o *Orchestrator) ensureRootTools(ctx context.Context) (tools.RootPaths, error) {
	if o.rootPaths != nil {
		return *o.rootPaths, nil
	}
	if !o.config.DownloadTools {
		p := o.rootTools.Paths()
		o.rootPaths = &p
		return p, nil
	}
	p, err := o.rootTools.Ensure(ctx)
	if err != nil {
		return p, fmt.Errorf("failed to install root tools: %w", err)
	}
	o.rootPaths = &p
	return p, nil
}

func (o *Orchestrator) kernelSource(target string) (*devices.KernelSource, bool) {
	if o.devices == nil {
		return nil, false
	}
	return o.devices.KernelSource(target)
}

func (o *Orchestrator) preinitDevice(target string) (string, bool) {
	if o.devices == nil {
		return "", false
	}
	return o.devices.PreinitDevice(target)
}

func findOTA(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*ota_update*.zip"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".patched.zip") {
			return m, nil
		}
	}
	return "", fmt.Errorf("no ota update archive in %v", dir)
}

func sortedGlob(dir, pattern string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
