package layers

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// CompressionType represents the compression algorithm used for layers
type CompressionType string

const (
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// GetMediaType returns the appropriate OCI media type for the compression
func (c CompressionType) GetMediaType() string {
	switch c {
	case CompressionZstd:
		return ocispec.MediaTypeImageLayerZstd
	default:
		return ocispec.MediaTypeImageLayerGzip
	}
}

// ParseCompression maps a user supplied name onto a CompressionType
func ParseCompression(s string) (CompressionType, error) {
	switch CompressionType(strings.ToLower(s)) {
	case "", CompressionGzip:
		return CompressionGzip, nil
	case CompressionZstd:
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unsupported compression %q (want gzip or zstd)", s)
}

// Layer is a finished, stored layer blob.
type Layer struct {
	// Descriptor of the compressed blob as stored
	Descriptor ocispec.Descriptor
	// DiffID is the digest of the uncompressed tar stream
	DiffID digest.Digest
	// UncompressedSize is the byte length of the tar stream
	UncompressedSize int64
}

// LayerError represents errors that occur during layer operations
type LayerError struct {
	Operation string
	Layer     string
	Cause     error
}

func (e *LayerError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("layer %s operation %s failed: %v", e.Layer, e.Operation, e.Cause)
	}
	return fmt.Sprintf("layer operation %s failed: %v", e.Operation, e.Cause)
}

func (e *LayerError) Unwrap() error {
	return e.Cause
}

// NewLayerError creates a new LayerError
func NewLayerError(operation, layer string, cause error) *LayerError {
	return &LayerError{
		Operation: operation,
		Layer:     layer,
		Cause:     cause,
	}
}

// ValidateDigest validates that a digest is a well formed sha256 digest
func ValidateDigest(d digest.Digest) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid digest %q: %w", d, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return fmt.Errorf("invalid digest algorithm %q: only sha256 is supported", d.Algorithm())
	}
	return nil
}
