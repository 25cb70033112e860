package layers

import (
	"io"

	"github.com/opencontainers/go-digest"
)

// HashingWriter forwards every byte to an inner writer while feeding a
// SHA-256 digester. Only the bytes the inner writer accepted are hashed,
// so the digest always matches what reached the inner writer.
type HashingWriter struct {
	w        io.Writer
	digester digest.Digester
	n        int64
}

// NewHashingWriter wraps w
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{
		w:        w,
		digester: digest.Canonical.Digester(),
	}
}

func (h *HashingWriter) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	if n > 0 {
		h.digester.Hash().Write(p[:n])
		h.n += int64(n)
	}
	return n, err
}

// Digest returns the digest of everything written so far
func (h *HashingWriter) Digest() digest.Digest {
	return h.digester.Digest()
}

// Size returns the number of bytes written so far
func (h *HashingWriter) Size() int64 {
	return h.n
}

// Finish returns the digest and hands back the inner writer.
func (h *HashingWriter) Finish() (digest.Digest, io.Writer) {
	return h.digester.Digest(), h.w
}
