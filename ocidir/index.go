package ocidir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/layers"
)

func (s *Store) indexPath() string {
	return filepath.Join(s.root, ocispec.ImageIndexFile)
}

// ReadIndex parses index.json
func (s *Store) ReadIndex() (ocispec.Index, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return ocispec.Index{}, rerrors.NewFilesystemError("read_index", s.indexPath(), err)
	}
	var idx ocispec.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return ocispec.Index{}, rerrors.NewConfigurationError("read_index", "malformed "+ocispec.ImageIndexFile, err)
	}
	return idx, nil
}

// writeIndex replaces index.json atomically
func (s *Store) writeIndex(idx ocispec.Index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return rerrors.NewConfigurationError("write_index", "encoding "+ocispec.ImageIndexFile, err)
	}
	tmp, err := os.CreateTemp(s.root, ".index-")
	if err != nil {
		return rerrors.NewFilesystemError("write_index", s.root, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return rerrors.NewFilesystemError("write_index", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return rerrors.NewFilesystemError("write_index", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return rerrors.NewFilesystemError("write_index", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.indexPath()); err != nil {
		return rerrors.NewFilesystemError("write_index", s.indexPath(), err)
	}
	return nil
}

// NewManifest returns an empty image manifest
func NewManifest() ocispec.Manifest {
	return ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Layers:    []ocispec.Descriptor{},
	}
}

// PushLayer records a stored layer in the manifest being built, its diff id
// in the config's rootfs and a history entry.
func (s *Store) PushLayer(m *ocispec.Manifest, c *ocispec.Image, layer layers.Layer, createdBy string, created time.Time) {
	m.Layers = append(m.Layers, layer.Descriptor)
	c.RootFS.Type = "layers"
	c.RootFS.DiffIDs = append(c.RootFS.DiffIDs, layer.DiffID)
	ts := created.UTC()
	c.History = append(c.History, ocispec.History{
		Created:   &ts,
		CreatedBy: createdBy,
	})
	s.log.WithField("digest", layer.Descriptor.Digest).WithField("diff_id", layer.DiffID).Debug("Pushed layer")
}

// InsertManifestAndConfig stores the config and manifest and tags the
// manifest in index.json. An existing manifest with the same tag is
// replaced. index.json is the last file written.
func (s *Store) InsertManifestAndConfig(m ocispec.Manifest, c ocispec.Image, tag string, platform *ocispec.Platform) (ocispec.Descriptor, error) {
	if len(c.RootFS.DiffIDs) != len(m.Layers) {
		return ocispec.Descriptor{}, rerrors.NewInvariantError("insert_manifest",
			fmt.Sprintf("config lists %d diff ids for %d manifest layers", len(c.RootFS.DiffIDs), len(m.Layers)))
	}
	if tag == "" {
		return ocispec.Descriptor{}, rerrors.NewValidationError("insert_manifest", "empty tag", nil)
	}

	configDesc, err := s.WriteJSONBlob(c, ocispec.MediaTypeImageConfig)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	m.Versioned = specs.Versioned{SchemaVersion: 2}
	m.MediaType = ocispec.MediaTypeImageManifest
	m.Config = configDesc
	if m.Layers == nil {
		m.Layers = []ocispec.Descriptor{}
	}

	manifestDesc, err := s.WriteJSONBlob(m, ocispec.MediaTypeImageManifest)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifestDesc.Platform = platform
	manifestDesc.Annotations = map[string]string{ocispec.AnnotationRefName: tag}

	idx, err := s.ReadIndex()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	kept := make([]ocispec.Descriptor, 0, len(idx.Manifests)+1)
	for _, d := range idx.Manifests {
		if d.Annotations[ocispec.AnnotationRefName] == tag {
			s.log.WithField("tag", tag).WithField("digest", d.Digest).Info("Replacing existing tag")
			continue
		}
		kept = append(kept, d)
	}
	idx.Versioned = specs.Versioned{SchemaVersion: 2}
	idx.MediaType = ocispec.MediaTypeImageIndex
	idx.Manifests = append(kept, manifestDesc)

	if err := s.writeIndex(idx); err != nil {
		return ocispec.Descriptor{}, err
	}
	return manifestDesc, nil
}

// Resolve returns the manifest descriptor tagged tag
func (s *Store) Resolve(tag string) (ocispec.Descriptor, error) {
	idx, err := s.ReadIndex()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	for _, d := range idx.Manifests {
		if d.Annotations[ocispec.AnnotationRefName] == tag {
			return d, nil
		}
	}
	return ocispec.Descriptor{}, rerrors.NewValidationError("resolve", fmt.Sprintf("tag %q not found in %s", tag, s.root), nil)
}

// Tags lists the ref names in index.json in index order
func (s *Store) Tags() ([]string, error) {
	idx, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, d := range idx.Manifests {
		if tag, ok := d.Annotations[ocispec.AnnotationRefName]; ok {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// ReadImage loads the manifest and config of the image tagged tag
func (s *Store) ReadImage(tag string) (ocispec.Manifest, ocispec.Image, error) {
	desc, err := s.Resolve(tag)
	if err != nil {
		return ocispec.Manifest{}, ocispec.Image{}, err
	}
	var m ocispec.Manifest
	if err := s.ReadJSONBlob(desc.Digest, &m); err != nil {
		return ocispec.Manifest{}, ocispec.Image{}, err
	}
	var c ocispec.Image
	if err := s.ReadJSONBlob(m.Config.Digest, &c); err != nil {
		return ocispec.Manifest{}, ocispec.Image{}, err
	}
	return m, c, nil
}
