// Package registry pushes images from an OCI image layout to a remote
// registry.
package registry

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
)

// PushOptions configures Push
type PushOptions struct {
	// Insecure allows plain HTTP and unverified TLS
	Insecure bool
	// Keychain defaults to NewAuthProvider(nil)
	Keychain authn.Keychain
	// Transport defaults to remote.DefaultTransport, without certificate
	// verification when Insecure is set
	Transport http.RoundTripper
	Logger    logrus.FieldLogger
}

// Image opens the image tagged tag in the layout at dir
func Image(dir, tag string) (v1.Image, error) {
	p, err := layout.FromPath(dir)
	if err != nil {
		return nil, rerrors.NewFilesystemError("open_layout", dir, err)
	}
	idx, err := p.ImageIndex()
	if err != nil {
		return nil, rerrors.NewFilesystemError("read_index", dir, err)
	}
	im, err := idx.IndexManifest()
	if err != nil {
		return nil, rerrors.NewFilesystemError("read_index", dir, err)
	}
	for _, d := range im.Manifests {
		if d.Annotations[ocispec.AnnotationRefName] != tag {
			continue
		}
		img, err := idx.Image(d.Digest)
		if err != nil {
			return nil, rerrors.NewFilesystemError("read_image", dir, err)
		}
		return img, nil
	}
	return nil, rerrors.NewValidationError("find_tag", "no image tagged "+tag+" in "+dir, nil)
}

func insecureTransport() http.RoundTripper {
	base, ok := remote.DefaultTransport.(*http.Transport)
	if !ok {
		base = http.DefaultTransport.(*http.Transport)
	}
	t := base.Clone()
	if t.TLSClientConfig == nil {
		t.TLSClientConfig = &tls.Config{}
	}
	t.TLSClientConfig.InsecureSkipVerify = true
	return t
}

// Push uploads the image tagged tag in the layout at dir to dst and returns
// the manifest digest.
func Push(ctx context.Context, dir, tag, dst string, opts PushOptions) (v1.Hash, error) {
	img, err := Image(dir, tag)
	if err != nil {
		return v1.Hash{}, err
	}

	var nameOpts []name.Option
	if opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.ParseReference(dst, nameOpts...)
	if err != nil {
		return v1.Hash{}, rerrors.NewValidationError("parse_reference", "invalid destination "+dst, err)
	}

	kc := opts.Keychain
	if kc == nil {
		kc = NewAuthProvider(nil)
	}
	remoteOpts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(kc),
	}
	transport := opts.Transport
	if transport == nil && opts.Insecure {
		transport = insecureTransport()
	}
	if transport != nil {
		remoteOpts = append(remoteOpts, remote.WithTransport(transport))
	}

	digest, err := img.Digest()
	if err != nil {
		return v1.Hash{}, rerrors.NewFilesystemError("read_image", dir, err)
	}
	log := logging.OrDiscard(opts.Logger).WithFields(logrus.Fields{
		"tag":         tag,
		"destination": ref.Name(),
		"digest":      digest,
	})
	log.Info("Pushing image")
	if err := remote.Write(ref, img, remoteOpts...); err != nil {
		return v1.Hash{}, rerrors.NewRegistryError("push_image", "push to "+ref.Name()+" failed", err)
	}
	log.Debug("Pushed image")
	return digest, nil
}
