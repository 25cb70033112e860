// Package resolver ranks the packages installed in a root filesystem.
//
// The image builder gives each of the most popular packages its own layer.
// How packages are found and ranked is up to the Resolver implementation:
// Static serves a fixed list, RPMDir reads RPM headers from a directory of
// package files, and Command delegates to an external program over a JSON
// request/response contract.
package resolver

import (
	"context"

	"github.com/bibin-skaria/rpmimg/internal/types"
)

// Request describes which packages the caller wants
type Request struct {
	// Root is the installed root filesystem
	Root string `json:"root"`
	// MaxLayers bounds the number of packages returned
	MaxLayers int `json:"max_layers"`
	// SizeThreshold is the installed size in bytes below which a package is
	// not worth its own layer
	SizeThreshold uint64 `json:"size_threshold"`
}

// Resolver returns up to req.MaxLayers packages, most popular first.
type Resolver interface {
	MostPopularPackages(ctx context.Context, req Request) ([]types.Package, error)
}

// Static is a Resolver over an already ranked package list
type Static []types.Package

// MostPopularPackages returns the first req.MaxLayers packages
func (s Static) MostPopularPackages(_ context.Context, req Request) ([]types.Package, error) {
	n := len(s)
	if req.MaxLayers < n {
		n = req.MaxLayers
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]types.Package, n)
	copy(out, s[:n])
	return out, nil
}
