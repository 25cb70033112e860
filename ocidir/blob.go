package ocidir

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sys/unix"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/layers"
)

// BlobPath returns where the blob with digest d lives
func (s *Store) BlobPath(d digest.Digest) string {
	return filepath.Join(s.root, blobsDir, d.Algorithm().String(), d.Encoded())
}

// HasBlob reports whether the blob with digest d is present
func (s *Store) HasBlob(d digest.Digest) bool {
	_, err := os.Stat(s.BlobPath(d))
	return err == nil
}

// OpenBlob opens the blob with digest d for reading
func (s *Store) OpenBlob(d digest.Digest) (io.ReadCloser, error) {
	if err := layers.ValidateDigest(d); err != nil {
		return nil, rerrors.NewValidationError("open_blob", err.Error(), nil)
	}
	f, err := os.Open(s.BlobPath(d))
	if err != nil {
		return nil, rerrors.NewFilesystemError("open_blob", s.BlobPath(d), err)
	}
	return f, nil
}

// BlobWriter streams one blob into the store
type BlobWriter struct {
	store *Store
	f     *os.File
	hw    *layers.HashingWriter
	done  bool
}

// CreateBlob starts a new blob in a temporary file
func (s *Store) CreateBlob() (layers.Blob, error) {
	return s.newBlobWriter()
}

func (s *Store) newBlobWriter() (*BlobWriter, error) {
	f, err := os.CreateTemp(s.tempDir, "rpmimg-blob-")
	if err != nil {
		return nil, rerrors.NewFilesystemError("create_blob", s.tempDir, err)
	}
	return &BlobWriter{store: s, f: f, hw: layers.NewHashingWriter(f)}, nil
}

func (w *BlobWriter) Write(p []byte) (int, error) {
	return w.hw.Write(p)
}

// Commit moves the blob to its content address and returns its descriptor.
func (w *BlobWriter) Commit(mediaType string) (ocispec.Descriptor, error) {
	if w.done {
		return ocispec.Descriptor{}, rerrors.NewInvariantError("commit_blob", "blob already finished")
	}
	w.done = true

	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return ocispec.Descriptor{}, rerrors.NewFilesystemError("commit_blob", tmp, err)
	}
	if err := w.f.Close(); err != nil {
		return ocispec.Descriptor{}, rerrors.NewFilesystemError("commit_blob", tmp, err)
	}

	d := w.hw.Digest()
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    d,
		Size:      w.hw.Size(),
	}

	dest := w.store.BlobPath(d)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmp)
		return desc, nil
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return ocispec.Descriptor{}, rerrors.NewFilesystemError("commit_blob", tmp, err)
	}
	if err := w.store.move(tmp, dest); err != nil {
		return ocispec.Descriptor{}, err
	}

	w.store.log.WithField("digest", d).WithField("size", desc.Size).Debug("Wrote blob")
	return desc, nil
}

// Abort removes the temporary file
func (w *BlobWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return rerrors.NewFilesystemError("abort_blob", w.f.Name(), err)
	}
	return nil
}

// move renames src to dst, copying instead when they are on different
// filesystems.
func (s *Store) move(src, dst string) error {
	err := s.rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return rerrors.NewFilesystemError("move_blob", dst, err)
	}

	s.log.WithField("path", dst).Debug("Temporary directory is on another filesystem, copying blob")
	if err := copyInto(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return rerrors.NewFilesystemError("move_blob", src, err)
	}
	return nil
}

func copyInto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return rerrors.NewFilesystemError("copy_blob", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".tmp-")
	if err != nil {
		return rerrors.NewFilesystemError("copy_blob", dst, err)
	}
	defer os.Remove(out.Name())

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return rerrors.NewFilesystemError("copy_blob", dst, err)
	}
	if err := out.Chmod(0o644); err != nil {
		out.Close()
		return rerrors.NewFilesystemError("copy_blob", dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return rerrors.NewFilesystemError("copy_blob", dst, err)
	}
	if err := out.Close(); err != nil {
		return rerrors.NewFilesystemError("copy_blob", dst, err)
	}
	if err := os.Rename(out.Name(), dst); err != nil {
		return rerrors.NewFilesystemError("copy_blob", dst, err)
	}
	return nil
}

// WriteBlob stores everything read from r
func (s *Store) WriteBlob(r io.Reader, mediaType string) (ocispec.Descriptor, error) {
	w, err := s.newBlobWriter()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Abort()
		return ocispec.Descriptor{}, rerrors.NewFilesystemError("write_blob", w.f.Name(), err)
	}
	return w.Commit(mediaType)
}

// WriteJSONBlob stores the JSON encoding of v
func (s *Store) WriteJSONBlob(v interface{}, mediaType string) (ocispec.Descriptor, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, rerrors.NewConfigurationError("write_blob", "encoding "+mediaType, err)
	}
	return s.WriteBlob(bytes.NewReader(data), mediaType)
}

// ReadJSONBlob decodes the blob with digest d into v
func (s *Store) ReadJSONBlob(d digest.Digest, v interface{}) error {
	rc, err := s.OpenBlob(d)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return rerrors.NewConfigurationError("read_blob", "malformed blob "+d.String(), err)
	}
	return nil
}
