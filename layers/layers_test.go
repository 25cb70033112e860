package layers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type memBlob struct {
	sink *memSink
	buf  bytes.Buffer
}

func (b *memBlob) Write(p []byte) (int, error) { return b.buf.Write(p) }

func (b *memBlob) Commit(mediaType string) (ocispec.Descriptor, error) {
	d := digest.FromBytes(b.buf.Bytes())
	b.sink.blobs[d] = b.buf.Bytes()
	return ocispec.Descriptor{MediaType: mediaType, Digest: d, Size: int64(b.buf.Len())}, nil
}

func (b *memBlob) Abort() error {
	b.sink.aborted++
	return nil
}

type memSink struct {
	blobs   map[digest.Digest][]byte
	aborted int
}

func newMemSink() *memSink {
	return &memSink{blobs: make(map[digest.Digest][]byte)}
}

func (s *memSink) CreateBlob() (Blob, error) {
	return &memBlob{sink: s}, nil
}

// shortWriter accepts at most max bytes per call
type shortWriter struct {
	buf bytes.Buffer
	max int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		n, _ := w.buf.Write(p[:w.max])
		return n, io.ErrShortWrite
	}
	return w.buf.Write(p)
}

func sampleData(size int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < size; i++ {
		fmt.Fprintf(&buf, "line %d of the sample layer payload %x\n", i, i*7919)
	}
	return buf.Bytes()[:size]
}

func TestHashingWriter(t *testing.T) {
	var out bytes.Buffer
	h := NewHashingWriter(&out)

	data := sampleData(10000)
	for i := 0; i < len(data); i += 333 {
		end := i + 333
		if end > len(data) {
			end = len(data)
		}
		if _, err := h.Write(data[i:end]); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	d, inner := h.Finish()
	if d != digest.FromBytes(data) {
		t.Errorf("digest = %s, want %s", d, digest.FromBytes(data))
	}
	if h.Size() != int64(len(data)) {
		t.Errorf("size = %d, want %d", h.Size(), len(data))
	}
	if inner != io.Writer(&out) {
		t.Error("Finish did not return the inner writer")
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Error("inner writer did not receive the data unchanged")
	}
}

func TestHashingWriterShortWrite(t *testing.T) {
	sw := &shortWriter{max: 4}
	h := NewHashingWriter(sw)

	n, err := h.Write([]byte("abcdefgh"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected short write error, got %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if h.Digest() != digest.FromString("abcd") {
		t.Error("digest should cover only the accepted bytes")
	}
}

func TestHashingWriterEmpty(t *testing.T) {
	h := NewHashingWriter(io.Discard)
	if h.Digest() != digest.FromBytes(nil) {
		t.Errorf("empty digest = %s", h.Digest())
	}
}

func TestWriterRoundTrip(t *testing.T) {
	for _, c := range []CompressionType{CompressionGzip, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			sink := newMemSink()
			w, err := NewWriter(sink, CompressionOptions{Type: c})
			if err != nil {
				t.Fatalf("NewWriter failed: %v", err)
			}

			data := sampleData(256 * 1024)
			if _, err := w.Write(data); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			layer, err := w.Complete()
			if err != nil {
				t.Fatalf("Complete failed: %v", err)
			}

			if layer.DiffID != digest.FromBytes(data) {
				t.Errorf("diff id = %s, want %s", layer.DiffID, digest.FromBytes(data))
			}
			if layer.UncompressedSize != int64(len(data)) {
				t.Errorf("uncompressed size = %d", layer.UncompressedSize)
			}
			if layer.Descriptor.MediaType != c.GetMediaType() {
				t.Errorf("media type = %s, want %s", layer.Descriptor.MediaType, c.GetMediaType())
			}

			blob, ok := sink.blobs[layer.Descriptor.Digest]
			if !ok {
				t.Fatal("blob not committed under its digest")
			}
			if int64(len(blob)) != layer.Descriptor.Size {
				t.Errorf("descriptor size %d != blob size %d", layer.Descriptor.Size, len(blob))
			}
			if layer.Descriptor.Digest == layer.DiffID {
				t.Error("compressed digest should differ from diff id")
			}

			r, err := NewDecompressor(bytes.NewReader(blob), c)
			if err != nil {
				t.Fatalf("NewDecompressor failed: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("decompress failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("decompressed data differs from input")
			}

			if _, err := w.Complete(); err == nil {
				t.Error("second Complete should fail")
			}
		})
	}
}

func TestZstdOutputIndependentOfConcurrency(t *testing.T) {
	data := sampleData(8 << 20)

	compress := func(workers int) []byte {
		var buf bytes.Buffer
		enc, err := NewCompressor(&buf, CompressionOptions{Type: CompressionZstd, Concurrency: workers})
		if err != nil {
			t.Fatalf("NewCompressor failed: %v", err)
		}
		for i := 0; i < len(data); i += 64 * 1024 {
			end := i + 64*1024
			if end > len(data) {
				end = len(data)
			}
			if _, err := enc.Write(data[i:end]); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		return buf.Bytes()
	}

	one := compress(1)
	four := compress(4)
	if !bytes.Equal(one, four) {
		t.Errorf("zstd output differs between 1 and 4 workers (%d vs %d bytes)", len(one), len(four))
	}
}

func TestWriterAbort(t *testing.T) {
	sink := newMemSink()
	w, err := NewWriter(sink, CompressionOptions{Type: CompressionGzip})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	w.Write([]byte("discard me"))
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if sink.aborted != 1 {
		t.Errorf("aborted = %d, want 1", sink.aborted)
	}
	if len(sink.blobs) != 0 {
		t.Error("aborted layer must not be committed")
	}
	if err := w.Abort(); err != nil {
		t.Errorf("second Abort should be a no-op, got %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{"", CompressionGzip, false},
		{"gzip", CompressionGzip, false},
		{"ZSTD", CompressionZstd, false},
		{"xz", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompression(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCompression(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateDigest(t *testing.T) {
	if err := ValidateDigest(digest.FromString("x")); err != nil {
		t.Errorf("valid digest rejected: %v", err)
	}
	if err := ValidateDigest("sha256:short"); err == nil {
		t.Error("short digest accepted")
	}
	if err := ValidateDigest(digest.NewDigestFromEncoded(digest.SHA512, strings.Repeat("a", 128))); err == nil {
		t.Error("sha512 digest accepted")
	}
}

func TestLayerErrorUnwrap(t *testing.T) {
	err := NewLayerError("commit_blob", "sha256:abc", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("LayerError should unwrap to its cause")
	}
	if err.Error() != "layer sha256:abc operation commit_blob failed: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
}
