package layers

import (
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Blob is a blob being written into a store. Commit finalizes it under its
// content digest; Abort discards it.
type Blob interface {
	io.Writer
	Commit(mediaType string) (ocispec.Descriptor, error)
	Abort() error
}

// BlobSink creates blobs. The OCI store implements it.
type BlobSink interface {
	CreateBlob() (Blob, error)
}

// Writer is a streaming layer writer:
//
//	tar bytes -> HashingWriter (diff id) -> compressor -> Blob (blob digest)
//
// Complete flushes the compressor and commits the blob. A Writer that is
// never completed must be aborted so its temporary blob is removed.
type Writer struct {
	blob      Blob
	comp      io.WriteCloser
	diff      *HashingWriter
	mediaType string
	done      bool
}

// NewWriter starts a new layer in sink
func NewWriter(sink BlobSink, opts CompressionOptions) (*Writer, error) {
	blob, err := sink.CreateBlob()
	if err != nil {
		return nil, NewLayerError("create_blob", "", err)
	}
	comp, err := NewCompressor(blob, opts)
	if err != nil {
		blob.Abort()
		return nil, err
	}
	return &Writer{
		blob:      blob,
		comp:      comp,
		diff:      NewHashingWriter(comp),
		mediaType: opts.Type.GetMediaType(),
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.diff.Write(p)
}

// Complete finalizes the compression stream and stores the blob.
func (w *Writer) Complete() (Layer, error) {
	if w.done {
		return Layer{}, NewLayerError("complete", "", io.ErrClosedPipe)
	}
	w.done = true

	diffID, _ := w.diff.Finish()
	size := w.diff.Size()
	if err := w.comp.Close(); err != nil {
		w.blob.Abort()
		return Layer{}, NewLayerError("flush_compressor", "", err)
	}
	desc, err := w.blob.Commit(w.mediaType)
	if err != nil {
		return Layer{}, NewLayerError("commit_blob", diffID.String(), err)
	}
	return Layer{
		Descriptor:       desc,
		DiffID:           diffID,
		UncompressedSize: size,
	}, nil
}

// Abort discards the layer without storing anything.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.comp.Close()
	return w.blob.Abort()
}

// MediaType is the media type the committed blob will carry
func (w *Writer) MediaType() string {
	return w.mediaType
}
