package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Keys of the required inputs. Environment variables use the upper snake case form
// (e.g. OS_NAME for os-name).
const (
	KeyOSName    = "os-name"
	KeyDevices   = "devices"
	KeyTag       = "tag"
	KeyBuildID   = "build-id"
	KeyOSVersion = "os-version"
)

// Build modes of the release monitor
const (
	// ModeOnRelease builds every newly observed release tag
	ModeOnRelease = "on_release"
	// ModeMonthly builds only the Nth release observed each month
	ModeMonthly = "monthly"
)

const (
	// DefaultManifestURL is the platform manifest synced by the sync phase
	DefaultManifestURL = "https://github.com/GrapheneOS/platform_manifest.git"
	// DefaultTagRepo is the repository polled by the monitor for new release tags
	DefaultTagRepo = "https://github.com/GrapheneOS/platform_manifest.git"
	// DefaultTagPattern matches upstream release tags (e.g. 2025020100)
	DefaultTagPattern = `^[0-9]{10}$`
	// DefaultAvbrootRepo is the GitHub repo avbroot releases are fetched from
	DefaultAvbrootRepo = "chenxiaolong/avbroot"
	// DefaultMagiskRepo is the GitHub repo Magisk releases are fetched from
	DefaultMagiskRepo = "topjohnwu/Magisk"
	// DefaultPollInterval is how often the monitor checks for new tags
	DefaultPollInterval = time.Hour
	// DefaultBuildVariant is the lunch variant for ROM builds
	DefaultBuildVariant = "user"
)

// Config holds every input of the orchestrator and the monitor. It is built once and
// passed into constructors.
type Config struct {
	// OSName identifies the OS being built (e.g. grapheneos)
	OSName string `mapstructure:"os-name"`
	// Devices is the comma separated list of build targets
	Devices string `mapstructure:"devices"`
	// Tag is the source tag or branch to sync
	Tag string `mapstructure:"tag"`
	// BuildID is the platform build id (e.g. AP4A.250105.002)
	BuildID string `mapstructure:"build-id"`
	// OSVersion is the Android version being built (e.g. 15)
	OSVersion string `mapstructure:"os-version"`
	// BuildNumber is passed to the release scripts, defaults to Tag
	BuildNumber string `mapstructure:"build-number"`
	// BuildVariant is the lunch variant (user, userdebug)
	BuildVariant string `mapstructure:"build-variant"`
	// Jobs is the parallelism for repo sync and the build
	Jobs int `mapstructure:"jobs"`
	// ManifestURL is the platform manifest repo
	ManifestURL string `mapstructure:"manifest-url"`

	// SourceDir is where the platform tree is checked out
	SourceDir string `mapstructure:"source-dir"`
	// KernelDir is where kernel trees are checked out
	KernelDir string `mapstructure:"kernel-dir"`
	// KeysDir holds one signing key directory per target
	KeysDir string `mapstructure:"keys-dir"`
	// ToolsDir holds downloaded root tools
	ToolsDir string `mapstructure:"tools-dir"`
	// PatchesDir holds *.patch files applied by the customize phase
	PatchesDir string `mapstructure:"patches-dir"`
	// ScriptsDir holds *.sh scripts executed by the customize phase
	ScriptsDir string `mapstructure:"scripts-dir"`
	// ReleaseDir is where per target release directories are collected
	ReleaseDir string `mapstructure:"release-dir"`
	// BuildLog, if set, receives the raw output of every external tool
	BuildLog string `mapstructure:"build-log"`

	// Identity strings used for signing certificates
	CertCountry    string `mapstructure:"cert-country"`
	CertState      string `mapstructure:"cert-state"`
	CertLocality   string `mapstructure:"cert-locality"`
	CertOrg        string `mapstructure:"cert-org"`
	CertOrgUnit    string `mapstructure:"cert-org-unit"`
	CertCommonName string `mapstructure:"cert-common-name"`
	CertEmail      string `mapstructure:"cert-email"`
	// KeyPassphrase encrypts generated signing keys. Empty means unencrypted keys.
	KeyPassphrase string `mapstructure:"key-passphrase"`

	// Root enables patching the signed OTA with Magisk through avbroot
	Root bool `mapstructure:"root"`
	// DownloadTools allows downloading avbroot and Magisk when missing
	DownloadTools bool `mapstructure:"download-tools"`
	// AvbrootVersion pins avbroot, empty means latest release
	AvbrootVersion string `mapstructure:"avbroot-version"`
	// MagiskVersion pins Magisk, empty means latest release
	MagiskVersion string `mapstructure:"magisk-version"`
	// AvbrootRepo and MagiskRepo are GitHub owner/name of the root tools
	AvbrootRepo string `mapstructure:"avbroot-repo"`
	MagiskRepo  string `mapstructure:"magisk-repo"`

	// AppriseURLs are notification endpoints handed to apprise
	AppriseURLs []string `mapstructure:"apprise-urls"`
	// SNSTopicARN is an optional AWS SNS topic for notifications
	SNSTopicARN string `mapstructure:"sns-topic-arn"`
	// AWSRegion is used for SNS and S3
	AWSRegion string `mapstructure:"aws-region"`
	// ReleaseBucket is an optional S3 bucket release directories are uploaded to
	ReleaseBucket string `mapstructure:"release-bucket"`

	// BuildMode is on_release or monthly
	BuildMode string `mapstructure:"build-mode"`
	// MonthlyOrdinal is the Nth release of the month that triggers a build in monthly mode
	MonthlyOrdinal int `mapstructure:"monthly-ordinal"`
	// PollInterval is the wait between monitor polls
	PollInterval time.Duration `mapstructure:"poll-interval"`
	// MonitorEnabled turns on the polling loop, otherwise a single build runs
	MonitorEnabled bool `mapstructure:"monitor-enabled"`
	// TagRepo is the repository polled for release tags
	TagRepo string `mapstructure:"tag-repo"`
	// TagPattern filters release tags
	TagPattern string `mapstructure:"tag-pattern"`
	// StateDir holds the monitor state files
	StateDir string `mapstructure:"state-dir"`
	// MetricsTextfile, if set, receives monitor metrics in Prometheus text format
	MetricsTextfile string `mapstructure:"metrics-textfile"`
}

// ConfigError lists every missing or invalid input
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required inputs: %v", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid inputs: %v", strings.Join(e.Invalid, "; ")))
	}
	return strings.Join(parts, "; ")
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper, home string) {
	base := filepath.Join(home, "rattlesnakeos-builder")
	v.SetDefault("build-variant", DefaultBuildVariant)
	v.SetDefault("jobs", 8)
	v.SetDefault("manifest-url", DefaultManifestURL)
	v.SetDefault("source-dir", filepath.Join(base, "src"))
	v.SetDefault("kernel-dir", filepath.Join(base, "kernel"))
	v.SetDefault("keys-dir", filepath.Join(base, "keys"))
	v.SetDefault("tools-dir", filepath.Join(base, "tools"))
	v.SetDefault("patches-dir", filepath.Join(base, "patches"))
	v.SetDefault("scripts-dir", filepath.Join(base, "scripts"))
	v.SetDefault("release-dir", filepath.Join(base, "releases"))
	v.SetDefault("state-dir", filepath.Join(base, "state"))
	v.SetDefault("cert-common-name", "RattlesnakeOS")
	v.SetDefault("download-tools", true)
	v.SetDefault("avbroot-repo", DefaultAvbrootRepo)
	v.SetDefault("magisk-repo", DefaultMagiskRepo)
	v.SetDefault("build-mode", ModeOnRelease)
	v.SetDefault("monthly-ordinal", 1)
	v.SetDefault("poll-interval", DefaultPollInterval)
	v.SetDefault("tag-repo", DefaultTagRepo)
	v.SetDefault("tag-pattern", DefaultTagPattern)
}

// Load decodes the settings held by v into a Config
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(c, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// Validate checks every required input at once and reports all problems together
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateMonitor checks only the monitor inputs. It is used when the required build
// inputs come from the monitor itself (the tag) and not from the operator.
func (c *Config) ValidateMonitor() error {
	return c.validate(false)
}

func (c *Config) validate(build bool) error {
	e := &ConfigError{}
	if build {
		e.Missing = Missing(map[string]string{
			KeyOSName:    c.OSName,
			KeyDevices:   c.Devices,
			KeyTag:       c.Tag,
			KeyBuildID:   c.BuildID,
			KeyOSVersion: c.OSVersion,
		})
		if c.Devices != "" && len(c.Targets()) == 0 {
			e.Invalid = append(e.Invalid, "devices: no targets in list")
		}
		if c.Jobs < 0 {
			e.Invalid = append(e.Invalid, fmt.Sprintf("jobs: must not be negative, got %v", c.Jobs))
		}
	}

	if c.BuildMode != ModeOnRelease && c.BuildMode != ModeMonthly {
		e.Invalid = append(e.Invalid, fmt.Sprintf("build-mode: must be %v or %v, got %q", ModeOnRelease, ModeMonthly, c.BuildMode))
	}
	if c.BuildMode == ModeMonthly && c.MonthlyOrdinal < 1 {
		e.Invalid = append(e.Invalid, fmt.Sprintf("monthly-ordinal: must be at least 1, got %v", c.MonthlyOrdinal))
	}
	if c.MonitorEnabled && c.PollInterval <= 0 {
		e.Invalid = append(e.Invalid, fmt.Sprintf("poll-interval: must be greater than 0, got %v", c.PollInterval))
	}

	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

// Keys returns every config key, in declaration order
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// BindEnv makes every config key readable from its environment variable form
func BindEnv(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range Keys() {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env for %v: %w", key, err)
		}
	}
	return nil
}

// Missing returns the sorted names of every empty input
func Missing(inputs map[string]string) []string {
	var missing []string
	for name, value := range inputs {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Targets returns the build targets from the comma separated device list
func (c *Config) Targets() []string {
	var targets []string
	seen := map[string]bool{}
	for _, t := range strings.Split(c.Devices, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}

// ReleaseNumber returns the build number handed to the release scripts
func (c *Config) ReleaseNumber() string {
	if c.BuildNumber != "" {
		return c.BuildNumber
	}
	return c.Tag
}

// CertificateSubject renders the openssl style subject used for signing certificates
func (c *Config) CertificateSubject() string {
	parts := []struct {
		key   string
		value string
	}{
		{"C", c.CertCountry},
		{"ST", c.CertState},
		{"L", c.CertLocality},
		{"O", c.CertOrg},
		{"OU", c.CertOrgUnit},
		{"CN", c.CertCommonName},
		{"emailAddress", c.CertEmail},
	}
	var b strings.Builder
	for _, p := range parts {
		if p.value == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("/%v=%v", p.key, p.value))
	}
	return b.String()
}

// WithTag returns a copy of c building tag instead of the configured tag
func (c *Config) WithTag(tag string) *Config {
	cp := *c
	cp.Tag = tag
	return &cp
}
