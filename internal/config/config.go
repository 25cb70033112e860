// Package config loads build files and build-time environment settings.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/types"
)

// DefaultPath is the build file looked up when none is given
const DefaultPath = "rpmimg.yaml"

// SourceDateEpochEnv fixes the image creation time when set
const SourceDateEpochEnv = "SOURCE_DATE_EPOCH"

// Contents describes what gets installed into the root
type Contents struct {
	Repositories []types.Repository `yaml:"repositories"`
	Packages     []string           `yaml:"packages"`
	GPGKeys      []string           `yaml:"gpgkeys,omitempty"`
	// Docs installs documentation files. Off by default for smaller images.
	Docs bool `yaml:"docs"`
	// OSRelease adds /etc/os-release to the resolved set. On by default.
	OSRelease *bool `yaml:"os_release,omitempty"`
}

// OSReleasePath is added to the resolved specs unless os_release is false
const OSReleasePath = "/etc/os-release"

// IncludeOSRelease reports the effective os_release setting
func (c Contents) IncludeOSRelease() bool {
	return c.OSRelease == nil || *c.OSRelease
}

// Specs returns the package specs to resolve. A build file used for
// resolution must list at least one package.
func (c Contents) Specs() ([]string, error) {
	if len(c.Packages) == 0 {
		return nil, rerrors.NewConfigurationError("resolve_specs", "contents.packages must list at least one package", nil)
	}
	specs := append([]string(nil), c.Packages...)
	if c.IncludeOSRelease() && !slices.Contains(specs, OSReleasePath) {
		specs = append(specs, OSReleasePath)
	}
	return specs, nil
}

// Config is a parsed build file
type Config struct {
	Contents Contents        `yaml:"contents"`
	Image    types.ImageSpec `yaml:"image"`
}

// Load reads and validates the build file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.NewFilesystemError("load_config", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, rerrors.NewErrorBuilder().
			Category(rerrors.ErrorCategoryConfiguration).
			Operation("load_config").
			Path(path).
			Message("invalid build file").
			Cause(err).
			Build()
	}
	return cfg, nil
}

// Parse decodes a build file. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of a build file that decoding cannot. A file
// holding only an image section is valid.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, r := range c.Contents.Repositories {
		id := r.EffectiveID()
		if seen[id] {
			return fmt.Errorf("duplicate repository id %q", id)
		}
		seen[id] = true
	}
	for _, k := range c.Contents.GPGKeys {
		if !strings.Contains(k, "://") {
			return fmt.Errorf("gpg key %q is not a URL", k)
		}
	}
	return nil
}

// CreationTime returns the time given by SOURCE_DATE_EPOCH, or now when it
// is unset or empty.
func CreationTime() (time.Time, error) {
	return creationTime(os.Getenv(SourceDateEpochEnv), time.Now)
}

func creationTime(v string, now func() time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Unix(now().Unix(), 0).UTC(), nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return time.Time{}, rerrors.NewConfigurationError("read_source_date_epoch",
			fmt.Sprintf("%s must be a non-negative integer, got %q", SourceDateEpochEnv, v), err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// ParseLabels turns KEY=VALUE pairs into a map
func ParseLabels(pairs []string) (map[string]string, error) {
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, rerrors.NewValidationError("parse_labels", fmt.Sprintf("label %q is not KEY=VALUE", p), nil)
		}
		labels[k] = v
	}
	return labels, nil
}
