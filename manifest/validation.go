package manifest

import (
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bibin-skaria/rpmimg/layers"
)

var validLayerMediaTypes = map[string]bool{
	ocispec.MediaTypeImageLayerGzip: true,
	ocispec.MediaTypeImageLayerZstd: true,
}

// ValidateImage checks that a manifest and config describe the same layers
func ValidateImage(m ocispec.Manifest, c ocispec.Image) error {
	if len(m.Layers) != len(c.RootFS.DiffIDs) {
		return &ManifestError{
			Type:      ErrorTypeInvariant,
			Operation: "validate_layers",
			Message:   fmt.Sprintf("manifest has %d layers but config has %d diff ids", len(m.Layers), len(c.RootFS.DiffIDs)),
		}
	}
	if len(c.History) != 0 && len(c.History) != len(m.Layers) {
		return &ManifestError{
			Type:      ErrorTypeInvariant,
			Operation: "validate_history",
			Message:   fmt.Sprintf("config has %d history entries for %d layers", len(c.History), len(m.Layers)),
		}
	}
	if c.RootFS.Type != "layers" {
		return &ManifestError{
			Type:      ErrorTypeValidation,
			Operation: "validate_rootfs",
			Message:   fmt.Sprintf("invalid rootfs type %q", c.RootFS.Type),
		}
	}
	if c.OS == "" || c.Architecture == "" {
		return &ManifestError{
			Type:      ErrorTypeValidation,
			Operation: "validate_platform",
			Message:   "config must set os and architecture",
		}
	}

	for i, l := range m.Layers {
		if !validLayerMediaTypes[l.MediaType] {
			return &ManifestError{
				Type:      ErrorTypeValidation,
				Operation: "validate_layer",
				Message:   fmt.Sprintf("layer %d has invalid media type %q", i, l.MediaType),
			}
		}
		if err := layers.ValidateDigest(l.Digest); err != nil {
			return &ManifestError{Type: ErrorTypeValidation, Operation: "validate_layer", Message: fmt.Sprintf("layer %d", i), Cause: err}
		}
		if err := layers.ValidateDigest(c.RootFS.DiffIDs[i]); err != nil {
			return &ManifestError{Type: ErrorTypeValidation, Operation: "validate_diff_id", Message: fmt.Sprintf("layer %d", i), Cause: err}
		}
		if l.Size <= 0 {
			return &ManifestError{
				Type:      ErrorTypeValidation,
				Operation: "validate_layer",
				Message:   fmt.Sprintf("layer %d has invalid size %d", i, l.Size),
			}
		}
	}
	return nil
}
