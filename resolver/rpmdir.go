package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	rpm "github.com/cavaliercoder/go-rpm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
	"github.com/bibin-skaria/rpmimg/internal/types"
)

// RPMDir ranks the packages whose .rpm files sit in Dir, typically the
// package cache of the install that produced the root. Headers are read in
// parallel; the root itself is not inspected.
type RPMDir struct {
	Dir string
	// Workers bounds concurrent header reads. Defaults to the CPU count.
	Workers int
	Logger  logrus.FieldLogger
}

// MostPopularPackages implements Resolver
func (r RPMDir) MostPopularPackages(ctx context.Context, req Request) ([]types.Package, error) {
	paths, err := filepath.Glob(filepath.Join(r.Dir, "*.rpm"))
	if err != nil {
		return nil, rerrors.NewResolverError("list_rpms", "bad package directory pattern", err)
	}
	sort.Strings(paths)

	log := logging.OrDiscard(r.Logger)
	log.WithField("dir", r.Dir).WithField("packages", len(paths)).Debug("Reading package headers")

	cands, err := readHeaders(ctx, paths, r.Workers)
	if err != nil {
		return nil, err
	}
	pkgs := rank(cands, req)
	for i, p := range pkgs {
		log.WithField("rank", i).WithField("package", p.NEVRA()).Debug("Selected package")
	}
	return pkgs, nil
}

// readHeaders reads every package header into a slot matching its path, so
// the result order does not depend on scheduling.
func readHeaders(ctx context.Context, paths []string, workers int) ([]candidate, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	cands := make([]candidate, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := readHeader(p)
			if err != nil {
				return err
			}
			cands[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cands, nil
}

func readHeader(path string) (candidate, error) {
	pkg, err := rpm.OpenPackageFile(path)
	if err != nil {
		return candidate{}, rerrors.NewErrorBuilder().
			Category(rerrors.ErrorCategoryResolver).
			Operation("read_rpm_header").
			Path(path).
			Message("unreadable package header").
			Cause(err).
			Build()
	}

	c := candidate{
		pkg: types.Package{
			Name:      pkg.Name(),
			EVR:       evr(pkg.Epoch(), pkg.Version(), pkg.Release()),
			Arch:      pkg.Architecture(),
			BuildTime: pkg.BuildTime().UTC(),
		},
		size: uint64(pkg.Size()),
	}
	for _, f := range pkg.Files() {
		c.pkg.Files = append(c.pkg.Files, f.Name())
	}
	for _, d := range pkg.Requires() {
		if strings.HasPrefix(d.Name(), "rpmlib(") {
			continue
		}
		c.requires = append(c.requires, d.Name())
	}
	for _, d := range pkg.Provides() {
		c.provides = append(c.provides, d.Name())
	}
	return c, nil
}

// evr renders epoch:version-release, leaving out a zero epoch
func evr(epoch int, version, release string) string {
	if epoch > 0 {
		return fmt.Sprintf("%d:%s-%s", epoch, version, release)
	}
	return version + "-" + release
}
