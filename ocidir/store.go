// Package ocidir reads and writes OCI image layout directories.
//
// A Store is rooted at a directory containing an oci-layout file, an
// index.json and a blobs/sha256 tree. Blobs are streamed to a temporary
// file, digested on the way, and moved into place under their digest, so a
// blob path always holds complete content. index.json is rewritten only by
// InsertManifestAndConfig, which makes tagging the single publishing step.
package ocidir

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
)

const blobsDir = "blobs"

// Options configures a Store
type Options struct {
	// TempDir holds blobs while they are written. Empty selects the system
	// temporary directory; blobs are copied into place when it lives on
	// another filesystem.
	TempDir string
	Logger  logrus.FieldLogger
}

// Store is an OCI image layout directory
type Store struct {
	root    string
	tempDir string
	log     logrus.FieldLogger
	rename  func(oldpath, newpath string) error
}

// Open ensures root is a usable image layout and returns a Store for it. A
// missing or empty directory is initialized; an existing layout must declare
// a compatible imageLayoutVersion.
func Open(root string, opts Options) (*Store, error) {
	s := &Store{
		root:    root,
		tempDir: opts.TempDir,
		log:     logging.OrDiscard(opts.Logger),
		rename:  os.Rename,
	}
	if err := s.ensure(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the layout root
func (s *Store) Path() string {
	return s.root
}

func (s *Store) ensure() error {
	info, err := os.Stat(s.root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(s.root, 0o755); err != nil {
			return rerrors.NewFilesystemError("create_layout", s.root, err)
		}
		return s.initialize()
	case err != nil:
		return rerrors.NewFilesystemError("stat_layout", s.root, err)
	case !info.IsDir():
		return rerrors.NewConfigurationError("open_layout", s.root+" is not a directory", nil)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return rerrors.NewFilesystemError("read_layout", s.root, err)
	}
	if len(entries) == 0 {
		return s.initialize()
	}

	layoutPath := filepath.Join(s.root, ocispec.ImageLayoutFile)
	data, err := os.ReadFile(layoutPath)
	if errors.Is(err, fs.ErrNotExist) {
		return rerrors.NewConfigurationError("open_layout", s.root+" is not empty and has no "+ocispec.ImageLayoutFile, nil)
	}
	if err != nil {
		return rerrors.NewFilesystemError("read_layout", layoutPath, err)
	}
	var layout ocispec.ImageLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return rerrors.NewConfigurationError("open_layout", "malformed "+ocispec.ImageLayoutFile, err)
	}
	if err := checkLayoutVersion(layout.Version); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(s.root, blobsDir, string(digest.Canonical)), 0o755); err != nil {
		return rerrors.NewFilesystemError("create_layout", s.root, err)
	}
	if _, err := os.Stat(s.indexPath()); errors.Is(err, fs.ErrNotExist) {
		return s.writeIndex(emptyIndex())
	}
	return nil
}

// checkLayoutVersion accepts any version with the same major version as the
// one this package writes.
func checkLayoutVersion(version string) error {
	v := "v" + version
	if !semver.IsValid(v) {
		return rerrors.NewConfigurationError("open_layout", "Unsupported image layout version "+version, nil)
	}
	if semver.Major(v) != semver.Major("v"+ocispec.ImageLayoutVersion) {
		return rerrors.NewConfigurationError("open_layout", "Unsupported image layout version "+version, nil)
	}
	return nil
}

func (s *Store) initialize() error {
	s.log.WithField("path", s.root).Debug("Initializing image layout")
	if err := os.MkdirAll(filepath.Join(s.root, blobsDir, string(digest.Canonical)), 0o755); err != nil {
		return rerrors.NewFilesystemError("create_layout", s.root, err)
	}
	data, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return rerrors.NewConfigurationError("create_layout", "encoding "+ocispec.ImageLayoutFile, err)
	}
	layoutPath := filepath.Join(s.root, ocispec.ImageLayoutFile)
	if err := os.WriteFile(layoutPath, data, 0o644); err != nil {
		return rerrors.NewFilesystemError("create_layout", layoutPath, err)
	}
	return s.writeIndex(emptyIndex())
}

func emptyIndex() ocispec.Index {
	return ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{},
	}
}
