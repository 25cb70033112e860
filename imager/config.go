package imager

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/types"
	"github.com/bibin-skaria/rpmimg/layers"
)

// Defaults applied by DefaultConfig and at construction time
const (
	DefaultMaxLayers     = 125
	DefaultSizeThreshold = 5 * 1024 * 1024
	DefaultTag           = "latest"
	DefaultCreatedBy     = "Created by rpmimg"
)

// Config controls how an image is split into layers and described.
//
// Zero values of Tag, CreatedBy, CreationTime, Compression.Type and Platform
// are replaced by their defaults in New. MaxLayers and SizeThreshold are
// taken literally; a MaxLayers of 0 produces a single layer.
type Config struct {
	// MaxLayers is the most packages given their own layer
	MaxLayers int
	// SizeThreshold is passed to the resolver as the minimum installed size
	// of a package worth its own layer
	SizeThreshold uint64
	// CreationTime stamps the config and history, and clamps mtimes in the
	// catch-all layer. Defaults to now.
	CreationTime time.Time
	Compression  layers.CompressionOptions
	Image        types.ImageSpec
	// Labels are merged over Image.Labels
	Labels   map[string]string
	Platform types.Platform
	Tag      string
	// CreatedBy prefixes the history entry of every layer
	CreatedBy string
	// TouchSymlinks lets archiving rewrite on-disk symlink mtimes
	TouchSymlinks bool
	Logger        logrus.FieldLogger
}

// DefaultConfig returns a Config with every documented default set
func DefaultConfig() Config {
	return Config{
		MaxLayers:     DefaultMaxLayers,
		SizeThreshold: DefaultSizeThreshold,
		Compression:   layers.CompressionOptions{Type: layers.CompressionGzip},
		Platform:      types.GetHostPlatform(),
		Tag:           DefaultTag,
		CreatedBy:     DefaultCreatedBy,
	}
}

func (c Config) withDefaults() Config {
	if c.Tag == "" {
		c.Tag = DefaultTag
	}
	if c.CreatedBy == "" {
		c.CreatedBy = DefaultCreatedBy
	}
	if c.CreationTime.IsZero() {
		c.CreationTime = time.Now()
	}
	c.CreationTime = time.Unix(c.CreationTime.Unix(), 0).UTC()
	if c.Compression.Type == "" {
		c.Compression.Type = layers.CompressionGzip
	}
	if c.Platform.OS == "" {
		c.Platform.OS = "linux"
	}
	if c.Platform.Architecture == "" {
		c.Platform.Architecture = types.GetHostPlatform().Architecture
	}
	return c
}

// Validate reports configuration errors
func (c Config) Validate() error {
	if c.MaxLayers < 0 {
		return rerrors.NewValidationError("configure_imager", fmt.Sprintf("max layers must not be negative, got %d", c.MaxLayers), nil)
	}
	if _, err := layers.ParseCompression(string(c.Compression.Type)); err != nil {
		return rerrors.NewValidationError("configure_imager", "invalid compression", err)
	}
	if c.Compression.Concurrency < 0 {
		return rerrors.NewValidationError("configure_imager", "compression concurrency must not be negative", nil)
	}
	if c.CreationTime.Unix() < 0 {
		return rerrors.NewValidationError("configure_imager", "creation time before the epoch", nil)
	}
	return nil
}
