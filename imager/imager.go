// Package imager turns an installed root filesystem into a tagged OCI image
// whose layers follow package boundaries.
//
// The most popular packages reported by a resolver each get a layer of their
// own; everything else lands in a final catch-all layer. One sorted walk of
// the root routes every entry to its layer, so the output depends only on the
// tree contents, the package ranking and the creation time.
package imager

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/rpmimg/archive"
	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
	"github.com/bibin-skaria/rpmimg/internal/types"
	"github.com/bibin-skaria/rpmimg/layers"
	"github.com/bibin-skaria/rpmimg/manifest"
	"github.com/bibin-skaria/rpmimg/ocidir"
	"github.com/bibin-skaria/rpmimg/resolver"
)

// Imager builds images from one root filesystem into one store
type Imager struct {
	root     string
	store    *ocidir.Store
	resolver resolver.Resolver
	cfg      Config
	log      logrus.FieldLogger
}

// New validates cfg and returns an Imager. res may be nil when MaxLayers is 0.
func New(root string, store *ocidir.Store, res resolver.Resolver, cfg Config) (*Imager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, rerrors.NewFilesystemError("open_root", root, err)
	}
	if !info.IsDir() {
		return nil, rerrors.NewValidationError("open_root", root+" is not a directory", nil)
	}
	if res == nil && cfg.MaxLayers > 0 {
		return nil, rerrors.NewValidationError("configure_imager", "a resolver is required when max layers is positive", nil)
	}
	return &Imager{
		root:     root,
		store:    store,
		resolver: res,
		cfg:      cfg,
		log:      logging.OrDiscard(cfg.Logger),
	}, nil
}

// layerSlot is one potential output layer
type layerSlot struct {
	createdBy string
	writer    *layers.Writer
	builder   *archive.Builder
	used      bool
}

// CreateImage builds the image and tags it. The tag is written only after
// every blob is stored.
func (im *Imager) CreateImage(ctx context.Context) (ocispec.Descriptor, error) {
	pkgs, err := im.rankedPackages(ctx)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	pathMap, err := buildPathMap(pkgs, im.log)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	config, err := manifest.NewImageConfig(im.cfg.Image, manifest.ConfigOptions{
		Created:  im.cfg.CreationTime,
		Platform: im.cfg.Platform,
		Labels:   im.cfg.Labels,
	})
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	slots, err := im.openSlots(pkgs)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer abortAll(slots)
	catchAll := slots[len(slots)-1]

	im.log.WithField("root", im.root).WithField("packages", len(pkgs)).Info("Writing image layers")
	err = archive.Walk(im.root, func(e archive.Entry) error {
		if e.Info.Kind == archive.KindOther {
			return nil
		}
		slot := catchAll
		if i, ok := pathMap[e.Rel]; ok {
			slot = slots[i]
		}
		slot.used = true
		return slot.builder.Append(e)
	})
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	asm := manifest.NewAssembler(im.store, config, im.log)
	for i, s := range slots {
		if !s.used {
			im.log.WithField("layer", s.createdBy).Debug("Dropping unused layer")
			continue
		}
		if err := s.builder.Close(); err != nil {
			return ocispec.Descriptor{}, err
		}
		layer, err := s.writer.Complete()
		if err != nil {
			return ocispec.Descriptor{}, err
		}
		asm.AddLayer(layer, s.createdBy, im.cfg.CreationTime)
		im.log.WithFields(logrus.Fields{
			"layer":   i,
			"digest":  layer.Descriptor.Digest,
			"size":    layer.Descriptor.Size,
			"entries": s.builder.Entries(),
		}).Debug(s.createdBy)
	}

	return asm.Commit(im.cfg.Tag)
}

func (im *Imager) rankedPackages(ctx context.Context) ([]types.Package, error) {
	if im.cfg.MaxLayers == 0 {
		return nil, nil
	}
	pkgs, err := im.resolver.MostPopularPackages(ctx, resolver.Request{
		Root:          im.root,
		MaxLayers:     im.cfg.MaxLayers,
		SizeThreshold: im.cfg.SizeThreshold,
	})
	if err != nil {
		return nil, rerrors.WrapError(err, rerrors.ErrorCategoryResolver, "rank_packages")
	}
	if len(pkgs) > im.cfg.MaxLayers {
		return nil, rerrors.NewInvariantError("rank_packages",
			fmt.Sprintf("resolver returned %d packages for at most %d layers", len(pkgs), im.cfg.MaxLayers))
	}
	return pkgs, nil
}

// buildPathMap maps root-relative paths to the index of the package that
// owns them. The first package listing a path keeps it.
func buildPathMap(pkgs []types.Package, log logrus.FieldLogger) (map[string]int, error) {
	m := make(map[string]int)
	for i, p := range pkgs {
		if len(p.Files) == 0 {
			return nil, rerrors.NewInvariantError("assign_paths", fmt.Sprintf("package %s lists no files", p.NEVRA()))
		}
		for _, f := range p.Files {
			rel := relPath(f)
			if rel == "" {
				continue
			}
			if owner, ok := m[rel]; ok {
				log.WithFields(logrus.Fields{
					"path":    rel,
					"package": p.NEVRA(),
					"owner":   pkgs[owner].NEVRA(),
				}).Debug("Path already assigned")
				continue
			}
			m[rel] = i
		}
	}
	return m, nil
}

func relPath(p string) string {
	return path.Clean("/" + p)[1:]
}

// openSlots creates one slot per package plus the catch-all, in that order
func (im *Imager) openSlots(pkgs []types.Package) ([]*layerSlot, error) {
	slots := make([]*layerSlot, 0, len(pkgs)+1)
	open := func(createdBy string, clamp time.Time) error {
		w, err := layers.NewWriter(im.store, im.cfg.Compression)
		if err != nil {
			return err
		}
		slots = append(slots, &layerSlot{
			createdBy: createdBy,
			writer:    w,
			builder: archive.NewBuilder(w, archive.Options{
				ClampTime:     clamp,
				TouchSymlinks: im.cfg.TouchSymlinks,
				Logger:        im.log,
			}),
		})
		return nil
	}

	for _, p := range pkgs {
		clamp := p.BuildTime
		if clamp.IsZero() {
			clamp = im.cfg.CreationTime
		}
		if err := open(fmt.Sprintf("%s for package %s", im.cfg.CreatedBy, p.NEVRA()), clamp); err != nil {
			abortAll(slots)
			return nil, err
		}
	}
	if err := open(im.cfg.CreatedBy, im.cfg.CreationTime); err != nil {
		abortAll(slots)
		return nil, err
	}
	return slots, nil
}

func abortAll(slots []*layerSlot) {
	for _, s := range slots {
		s.writer.Abort()
	}
}
