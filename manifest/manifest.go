// Package manifest assembles the image configuration and manifest of a
// built image.
//
// NewImageConfig turns the user facing image settings into an OCI image
// config. An Assembler then accumulates stored layers in push order, keeping
// the manifest's layer list, the config's diff ids and its history aligned,
// and finally publishes the pair under a tag:
//
//	asm := manifest.NewAssembler(store, cfg, log)
//	asm.AddLayer(layer, "Created by rpmimg", created)
//	desc, err := asm.Commit("latest")
package manifest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/rpmimg/internal/logging"
	"github.com/bibin-skaria/rpmimg/internal/types"
	"github.com/bibin-skaria/rpmimg/layers"
	"github.com/bibin-skaria/rpmimg/ocidir"
)

// ConfigOptions carries the build-time inputs of an image config
type ConfigOptions struct {
	Created  time.Time
	Platform types.Platform
	// Labels are merged over the labels of the image spec
	Labels map[string]string
}

// NewImageConfig builds the image config for spec. Environment entries are
// sorted by name and PATH defaults to DefaultPath.
func NewImageConfig(spec types.ImageSpec, opts ConfigOptions) (ocispec.Image, error) {
	created := opts.Created.UTC()
	cfg := ocispec.Image{
		Created: &created,
		Author:  spec.Author,
		Platform: ocispec.Platform{
			OS:           opts.Platform.OS,
			Architecture: opts.Platform.Architecture,
			Variant:      opts.Platform.Variant,
		},
		Config: ocispec.ImageConfig{
			User:       spec.User,
			Entrypoint: spec.Entrypoint,
			Cmd:        spec.Cmd,
			WorkingDir: spec.WorkingDir,
			StopSignal: spec.StopSignal,
		},
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{},
		},
	}
	if cfg.OS == "" {
		cfg.OS = "linux"
	}
	if cfg.Architecture == "" {
		cfg.Architecture = types.GetHostPlatform().Architecture
	}

	env := make(map[string]string, len(spec.Envs)+1)
	for k, v := range spec.Envs {
		if k == "" || strings.Contains(k, "=") {
			return ocispec.Image{}, &ManifestError{
				Type:      ErrorTypeValidation,
				Operation: "generate_config",
				Message:   fmt.Sprintf("invalid environment variable name %q", k),
			}
		}
		env[k] = v
	}
	if _, ok := env["PATH"]; !ok {
		env["PATH"] = DefaultPath
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Config.Env = append(cfg.Config.Env, k+"="+env[k])
	}

	if len(spec.ExposedPorts) > 0 {
		cfg.Config.ExposedPorts = make(map[string]struct{}, len(spec.ExposedPorts))
		for _, p := range spec.ExposedPorts {
			port, err := normalizePort(p)
			if err != nil {
				return ocispec.Image{}, err
			}
			cfg.Config.ExposedPorts[port] = struct{}{}
		}
	}

	if len(spec.Volumes) > 0 {
		cfg.Config.Volumes = make(map[string]struct{}, len(spec.Volumes))
		for _, v := range spec.Volumes {
			cfg.Config.Volumes[v] = struct{}{}
		}
	}

	if len(spec.Labels)+len(opts.Labels) > 0 {
		cfg.Config.Labels = make(map[string]string, len(spec.Labels)+len(opts.Labels))
		for k, v := range spec.Labels {
			cfg.Config.Labels[k] = v
		}
		for k, v := range opts.Labels {
			cfg.Config.Labels[k] = v
		}
	}

	return cfg, nil
}

// normalizePort accepts "port" or "port/proto" and defaults proto to tcp
func normalizePort(p string) (string, error) {
	port, proto, found := strings.Cut(p, "/")
	if !found {
		proto = "tcp"
	}
	if port == "" || strings.Trim(port, "0123456789-") != "" {
		return "", &ManifestError{
			Type:      ErrorTypeValidation,
			Operation: "generate_config",
			Message:   fmt.Sprintf("invalid exposed port %q", p),
		}
	}
	switch proto {
	case "tcp", "udp", "sctp":
	default:
		return "", &ManifestError{
			Type:      ErrorTypeValidation,
			Operation: "generate_config",
			Message:   fmt.Sprintf("invalid protocol in exposed port %q", p),
		}
	}
	return port + "/" + proto, nil
}

// Assembler accumulates the layers of one image and publishes it.
type Assembler struct {
	store    *ocidir.Store
	manifest ocispec.Manifest
	config   ocispec.Image
	log      logrus.FieldLogger
}

// NewAssembler starts an image with the given config
func NewAssembler(store *ocidir.Store, config ocispec.Image, log logrus.FieldLogger) *Assembler {
	return &Assembler{
		store:    store,
		manifest: ocidir.NewManifest(),
		config:   config,
		log:      logging.OrDiscard(log),
	}
}

// AddLayer appends a stored layer. Layers must be added in stacking order.
func (a *Assembler) AddLayer(layer layers.Layer, createdBy string, created time.Time) {
	a.store.PushLayer(&a.manifest, &a.config, layer, createdBy, created)
}

// Layers returns the number of layers added so far
func (a *Assembler) Layers() int {
	return len(a.manifest.Layers)
}

// Manifest returns the manifest as assembled so far
func (a *Assembler) Manifest() ocispec.Manifest {
	return a.manifest
}

// Config returns the config as assembled so far
func (a *Assembler) Config() ocispec.Image {
	return a.config
}

// Commit validates the image and tags it in the store. The tag is only
// written when everything else has been stored.
func (a *Assembler) Commit(tag string) (ocispec.Descriptor, error) {
	if err := ValidateImage(a.manifest, a.config); err != nil {
		return ocispec.Descriptor{}, err
	}

	platform := a.config.Platform
	a.log.WithField("tag", tag).WithField("layers", len(a.manifest.Layers)).Info("Writing image manifest and config")
	desc, err := a.store.InsertManifestAndConfig(a.manifest, a.config, tag, &platform)
	if err != nil {
		return ocispec.Descriptor{}, &ManifestError{
			Type:      ErrorTypeGeneration,
			Operation: "commit",
			Message:   "storing manifest and config",
			Cause:     err,
		}
	}
	return desc, nil
}
