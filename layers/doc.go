// Package layers streams image layers into content-addressed storage.
//
// A layer is produced by writing an uncompressed tar stream into a Writer.
// The Writer hashes the raw stream to obtain the layer's diff id, compresses
// it with gzip or multi-worker zstd, and hands the compressed bytes to a
// BlobSink, which digests and stores them:
//
//	w, err := layers.NewWriter(store, layers.CompressionOptions{Type: layers.CompressionZstd})
//	if err != nil {
//		return err
//	}
//	if _, err := io.Copy(w, tarStream); err != nil {
//		w.Abort()
//		return err
//	}
//	layer, err := w.Complete()
//
// Compression output is a pure function of the input bytes and the codec
// level, so identical tar streams always yield identical blob digests.
package layers
