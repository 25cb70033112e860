package exporters

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/bibin-skaria/rpmimg/archive"
	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
	"github.com/bibin-skaria/rpmimg/registry"
)

// DockerArchiveExporter writes a tarball loadable with docker load
type DockerArchiveExporter struct{}

// OCIArchiveExporter writes the whole layout directory as one tar
type OCIArchiveExporter struct{}

func init() {
	RegisterExporter("docker-archive", &DockerArchiveExporter{})
	RegisterExporter("oci-archive", &OCIArchiveExporter{})
}

func (e *DockerArchiveExporter) Export(ctx context.Context, req Request) error {
	img, err := registry.Image(req.Layout, req.Tag)
	if err != nil {
		return err
	}

	refName := req.Reference
	if refName == "" {
		refName = "rpmimg:" + req.Tag
	}
	ref, err := name.NewTag(refName)
	if err != nil {
		return rerrors.NewValidationError("export_docker_archive", "invalid image reference "+refName, err)
	}

	logging.OrDiscard(req.Logger).WithField("output", req.Output).WithField("reference", ref.Name()).Info("Writing docker archive")
	if err := tarball.WriteToFile(req.Output, ref, img); err != nil {
		return rerrors.NewFilesystemError("export_docker_archive", req.Output, err)
	}
	return nil
}

func (e *OCIArchiveExporter) Export(ctx context.Context, req Request) error {
	if _, err := registry.Image(req.Layout, req.Tag); err != nil {
		return err
	}
	inside, err := within(req.Layout, req.Output)
	if err != nil {
		return rerrors.NewFilesystemError("export_oci_archive", req.Output, err)
	}
	if inside {
		return rerrors.NewValidationError("export_oci_archive", "output "+req.Output+" is inside the layout "+req.Layout, nil)
	}

	f, err := os.Create(req.Output)
	if err != nil {
		return rerrors.NewFilesystemError("export_oci_archive", req.Output, err)
	}
	defer f.Close()

	log := logging.OrDiscard(req.Logger)
	log.WithField("output", req.Output).Info("Writing OCI archive")
	b := archive.NewBuilder(f, archive.Options{ClampTime: req.ClampTime, Logger: log})
	if err := b.AppendTree(req.Layout); err != nil {
		return err
	}
	if err := b.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return rerrors.NewFilesystemError("export_oci_archive", req.Output, err)
	}
	return nil
}

// within reports whether path lies inside dir
func within(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}
