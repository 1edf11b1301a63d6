// Package codec abstracts the underlying Zstandard implementation behind a
// Backend interface.
//
// The streaming engine and all consumption adapters are written against
// Backend only, so every backend observes the same behavior contract and the
// shared test suite runs against each of them. Two backends ship with the
// module: a pure-Go one (always available) and a cgo one binding libzstd
// (available when built with cgo).
//
// Backends are selected explicitly at context construction time, never from
// ambient process state.
package codec

import (
	"fmt"
	"io"

	"github.com/arloliu/zstream/errs"
)

// Direction distinguishes compression from decompression resources.
type Direction uint8

const (
	DirCompress Direction = iota
	DirDecompress
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirCompress {
		return "compress"
	}

	return "decompress"
}

// DigestedDict is a dictionary pre-processed into a form directly usable by
// one backend. Expensive to compute once, cheap to reuse; produced by
// Backend.DigestDict and cached by dict.Dictionary.
type DigestedDict interface {
	// Release frees backend-held resources. Safe to call more than once.
	Release()
}

// EncoderConfig carries the resolved settings for one compression operation.
type EncoderConfig struct {
	// Level is the zstd compression level.
	Level int
	// WindowLog bounds the match window; 0 keeps the backend default.
	WindowLog int
	// Checksum appends a content checksum to each frame, where the backend
	// supports it.
	Checksum bool
	// ContentSize records the decompressed size in the frame header when it
	// is known up front.
	ContentSize bool
	// Concurrency is the worker count for one-shot encoding; streaming
	// frame encoders always run single-threaded.
	Concurrency int
	// Dict is a digested dictionary previously produced by the same
	// backend's DigestDict, or nil.
	Dict DigestedDict
	// PledgedSize is the promised total input size for a streaming frame,
	// or -1 when unknown. When ContentSize is set, backends record the
	// pledge in the first frame's header where the underlying library
	// allows it; frames after an explicit frame flush have unknown size.
	PledgedSize int64
}

// DecoderConfig carries the resolved settings for one decompression
// operation.
type DecoderConfig struct {
	// MaxWindowSize rejects frames requiring a larger decode window, in
	// bytes. 0 keeps the backend's default ceiling.
	MaxWindowSize int64
	// MaxMemory caps the total decompressed output of a one-shot call, in
	// bytes. 0 keeps the backend default.
	MaxMemory int64
	// Concurrency is the decoder worker count; streaming frame decoders
	// always run single-threaded.
	Concurrency int
	// Dict is a digested dictionary previously produced by the same
	// backend's DigestDict, or nil.
	Dict DigestedDict
}

// FrameEncoder is an incremental compressor for a sequence of frames.
//
// Returned output slices are valid only until the next call on the same
// encoder; callers must consume or copy them immediately.
type FrameEncoder interface {
	// Encode feeds input into the open frame and returns whatever output
	// the codec produced. Zero-length output means more input is needed,
	// not an error.
	Encode(in []byte) ([]byte, error)
	// Flush ends the current block and returns its bytes. The frame stays
	// open; Flush may be called repeatedly.
	Flush() ([]byte, error)
	// EndFrame closes the current frame and returns its final bytes. The
	// encoder is re-armed: the next Encode starts a new, independently
	// decodable frame.
	EndFrame() ([]byte, error)
	// Close releases the encoder. Output still buffered for an unfinished
	// frame is discarded, leaving whatever was already delivered as a
	// truncated frame.
	Close() error
}

// FrameDecoder is an incremental decompressor reading compressed bytes from
// an underlying source. Read returns io.EOF when the source is exhausted (or
// when a bounding reader ends the current frame).
type FrameDecoder interface {
	io.Reader
	// Reset re-arms the decoder to read a fresh stream from src, reusing
	// internal state.
	Reset(src io.Reader) error
	// Close releases the decoder.
	Close() error
}

// Backend is one concrete Zstandard implementation.
type Backend interface {
	// Name identifies the backend ("purego", "cgo").
	Name() string
	// Available reports whether the backend is compiled into this binary.
	Available() bool
	// CompressBound returns the worst-case compressed size for srcLen input
	// bytes, suitable for pre-sizing one-shot destination buffers.
	CompressBound(srcLen int) int
	// Compress appends a complete frame holding src to dst.
	Compress(dst, src []byte, cfg EncoderConfig) ([]byte, error)
	// Decompress appends the decoded content of the frame in src to dst.
	// dst should be pre-sized: backends never grow past cfg.MaxMemory.
	Decompress(dst, src []byte, cfg DecoderConfig) ([]byte, error)
	// NewFrameEncoder creates an incremental compressor.
	NewFrameEncoder(cfg EncoderConfig) (FrameEncoder, error)
	// NewFrameDecoder creates an incremental decompressor over src.
	NewFrameDecoder(src io.Reader, cfg DecoderConfig) (FrameDecoder, error)
	// DigestDict pre-processes dictionary content for this backend. raw
	// marks prefix (raw-content) dictionaries; structured dictionaries
	// carry the dictionary magic. level matters for compression digests
	// only.
	DigestDict(content []byte, raw bool, dir Direction, level int) (DigestedDict, error)
}

// Default returns the backend used when none is selected explicitly.
func Default() Backend {
	return Pure()
}

// compressBound mirrors the reference worst-case bound: the source size plus
// 1/256th of it, plus a small-input margin.
func compressBound(srcLen int) int {
	margin := 0
	if srcLen < 128*1024 {
		margin = (128*1024 - srcLen) >> 11
	}

	return srcLen + (srcLen >> 8) + margin
}

// wrapCodecErr attaches the sentinel codec error to a backend failure while
// keeping the backend's own error in the chain, so callers can still match
// underlying conditions such as io.ErrUnexpectedEOF.
func wrapCodecErr(backend, op string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", backend, op, err, errs.ErrCodec)
}
