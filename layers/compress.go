package layers

import (
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Default compression levels. Zstd levels use the zstd command line scale.
const (
	DefaultGzipLevel = gzip.DefaultCompression
	DefaultZstdLevel = 3
)

// CompressionOptions tunes the layer codecs
type CompressionOptions struct {
	Type CompressionType
	// Level is codec specific; nil selects the default
	Level *int
	// Concurrency bounds zstd worker goroutines; zero means runtime.NumCPU()
	Concurrency int
}

func (o CompressionOptions) level() int {
	if o.Level != nil {
		return *o.Level
	}
	if o.Type == CompressionZstd {
		return DefaultZstdLevel
	}
	return DefaultGzipLevel
}

// NewCompressor returns a compressing writer over w. Output depends only on
// the input bytes and the level, never on Concurrency.
func NewCompressor(w io.Writer, opts CompressionOptions) (io.WriteCloser, error) {
	switch opts.Type {
	case CompressionGzip, "":
		gz, err := gzip.NewWriterLevel(w, opts.level())
		if err != nil {
			return nil, NewLayerError("create_compressor", "", err)
		}
		return gz, nil
	case CompressionZstd:
		workers := opts.Concurrency
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.level())),
			zstd.WithEncoderConcurrency(workers),
		)
		if err != nil {
			return nil, NewLayerError("create_compressor", "", err)
		}
		return enc, nil
	}
	return nil, NewLayerError("create_compressor", "", fmt.Errorf("unsupported compression %q", opts.Type))
}

// NewDecompressor returns a reader yielding the uncompressed stream of r
func NewDecompressor(r io.Reader, c CompressionType) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip, "":
		return gzip.NewReader(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", c)
}
