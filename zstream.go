// Package zstream is a streaming Zstandard codec engine.
//
// Two context types hold reusable configuration: Compressor and
// Decompressor. Each spawns operations in every consumption shape the
// format is used in:
//
//   - one-shot: Compressor.Compress, Decompressor.Decompress and
//     Decompressor.DecompressCapped over byte slices
//   - push streaming: Compressor.NewWriter and Decompressor.NewWriter
//     wrapping an io.Writer destination
//   - pull streaming: Compressor.NewReader and Decompressor.NewReader
//     wrapping an io.Reader source
//   - fixed-size chunks: Compressor.NewChunker
//   - whole-stream copies: CopyStream on both contexts
//   - batch: CompressMany and DecompressMany over segmented buffers
//     (package segbuf), spreading independent segments across workers
//
// A context runs one operation at a time; starting a second before the
// first is closed fails with errs.ErrAlreadyActive. Construct one context
// per concurrent stream, sharing dictionaries (package dict) between them
// to amortize digestion.
//
// Decompression never trusts the input for memory sizing: one-shot decode
// requires the frame to record its content size (errs.ErrSizeUnknown
// otherwise), DecompressCapped takes an explicit output cap, and
// WithDecoderMaxWindow bounds streaming window memory.
//
// Frame metadata can be inspected without decoding via package frame.
package zstream

// Compress compresses src into a single frame with default settings,
// appending the output to dst.
func Compress(dst, src []byte) ([]byte, error) {
	return CompressLevel(dst, src, 0)
}

// CompressLevel compresses src into a single frame at the given level,
// appending the output to dst. Level 0 means the default level.
func CompressLevel(dst, src []byte, level int) ([]byte, error) {
	var opts []CompressorOption
	if level != 0 {
		opts = append(opts, WithEncoderLevel(level))
	}
	c, err := NewCompressor(opts...)
	if err != nil {
		return nil, err
	}

	return c.Compress(dst, src)
}

// Decompress decompresses the first frame of src with default settings,
// appending the output to dst. The frame must record its content size; use
// a Decompressor with DecompressCapped for frames that do not.
func Decompress(dst, src []byte) ([]byte, error) {
	d, err := NewDecompressor()
	if err != nil {
		return nil, err
	}

	return d.Decompress(dst, src)
}
