package zstream

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/arloliu/zstream/codec"
	"github.com/arloliu/zstream/dict"
	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/frame"
	"github.com/arloliu/zstream/internal/options"
)

// Decompressor holds reusable decompression configuration and spawns
// decompression operations: one-shot Decompress and DecompressCapped, the
// pull-style Reader, the push-style DecompressWriter and the batch
// DecompressMany.
//
// A Decompressor runs at most one streaming operation at a time; starting a
// second before the first is closed fails with errs.ErrAlreadyActive.
type Decompressor struct {
	dictionary    *dict.Dictionary
	maxWindowSize int64
	concurrency   int
	backend       codec.Backend
	format        frame.Format

	active atomic.Bool
}

// DecompressorOption configures a Decompressor.
type DecompressorOption = options.Option[*Decompressor]

// WithDecoderDict attaches a dictionary matching the one used at compression
// time.
func WithDecoderDict(d *dict.Dictionary) DecompressorOption {
	return options.New(func(dc *Decompressor) error {
		if d == nil {
			return fmt.Errorf("dictionary must not be nil: %w", errs.ErrInvalidParameter)
		}
		dc.dictionary = d

		return nil
	})
}

// WithDecoderMaxWindow caps the window size frames may demand, bounding
// decoder memory when consuming untrusted input. Zero means the backend
// default.
func WithDecoderMaxWindow(n int64) DecompressorOption {
	return options.New(func(dc *Decompressor) error {
		if n < 0 {
			return fmt.Errorf("max window %d must not be negative: %w", n, errs.ErrInvalidParameter)
		}
		dc.maxWindowSize = n

		return nil
	})
}

// WithDecoderConcurrency sets the number of codec worker goroutines for
// backends that parallelize. Defaults to 1.
func WithDecoderConcurrency(n int) DecompressorOption {
	return options.New(func(dc *Decompressor) error {
		if n < 1 {
			return fmt.Errorf("concurrency %d must be at least 1: %w", n, errs.ErrInvalidParameter)
		}
		dc.concurrency = n

		return nil
	})
}

// WithDecoderBackend selects the codec backend. The backend must be
// available in the current build.
func WithDecoderBackend(b codec.Backend) DecompressorOption {
	return options.New(func(dc *Decompressor) error {
		if b == nil {
			return fmt.Errorf("backend must not be nil: %w", errs.ErrInvalidParameter)
		}
		if !b.Available() {
			return fmt.Errorf("backend %q: %w", b.Name(), errs.ErrBackendUnavailable)
		}
		dc.backend = b

		return nil
	})
}

// WithDecoderFormat declares the input frame format. FormatMagicless inputs
// carry no frame magic; the decompressor re-synthesizes it internally.
func WithDecoderFormat(f frame.Format) DecompressorOption {
	return options.New(func(dc *Decompressor) error {
		if f != frame.FormatZstd1 && f != frame.FormatMagicless {
			return fmt.Errorf("unknown frame format %d: %w", f, errs.ErrInvalidParameter)
		}
		dc.format = f

		return nil
	})
}

// NewDecompressor creates a Decompressor. Defaults: no dictionary, backend
// window limits, single codec worker, pure-Go backend, standard frame
// format.
func NewDecompressor(opts ...DecompressorOption) (*Decompressor, error) {
	d := &Decompressor{
		concurrency: 1,
		backend:     codec.Default(),
		format:      frame.FormatZstd1,
	}
	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// decoderConfig builds the backend configuration for one operation.
func (d *Decompressor) decoderConfig() (codec.DecoderConfig, error) {
	var dd codec.DigestedDict
	if d.dictionary != nil {
		var err error
		dd, err = d.dictionary.Digest(d.backend, codec.DirDecompress, 0)
		if err != nil {
			return codec.DecoderConfig{}, err
		}
	}

	return codec.DecoderConfig{
		MaxWindowSize: d.maxWindowSize,
		Concurrency:   d.concurrency,
		Dict:          dd,
	}, nil
}

// firstFrame bounds src to its first frame, synthesizing the magic for
// magic-less input. The returned slice may alias src or be a fresh
// allocation.
func (d *Decompressor) firstFrame(src []byte) ([]byte, error) {
	n, err := frame.CompressedSize(src, d.format)
	if err != nil {
		return nil, err
	}
	src = src[:n]
	if d.format == frame.FormatMagicless {
		buf := make([]byte, 0, len(src)+frame.MagicSize)
		buf = append(buf, frame.MagicBytes()...)

		return append(buf, src...), nil
	}

	return src, nil
}

// Decompress decompresses the first frame of src, appending the output to
// dst and returning the extended slice. The frame must record its content
// size; frames without it fail with errs.ErrSizeUnknown, use
// DecompressCapped for those. Bytes after the first frame are ignored.
func (d *Decompressor) Decompress(dst, src []byte) ([]byte, error) {
	if !d.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("decompressor: %w", errs.ErrAlreadyActive)
	}
	defer d.active.Store(false)

	return d.decompressOne(dst, src)
}

// decompressOne is the lock-free core of Decompress, shared with the batch
// path which manages the operation slot itself.
func (d *Decompressor) decompressOne(dst, src []byte) ([]byte, error) {
	h, err := frame.ParseHeader(src, d.format)
	if err != nil {
		return nil, err
	}
	if h.Skippable {
		return dst, nil
	}
	if h.ContentSize == frame.ContentSizeUnknown {
		return nil, fmt.Errorf("frame does not record its content size: %w", errs.ErrSizeUnknown)
	}

	fsrc, err := d.firstFrame(src)
	if err != nil {
		return nil, err
	}
	cfg, err := d.decoderConfig()
	if err != nil {
		return nil, err
	}
	// Cap the decode at the declared size, but never below the frame's
	// window: backends reject windows that exceed their memory budget.
	cfg.MaxMemory = max(h.ContentSize, int64(h.WindowSize))

	start := len(dst)
	out, err := d.backend.Decompress(dst, fsrc, cfg)
	if err != nil {
		return nil, err
	}
	if int64(len(out)-start) != h.ContentSize {
		return nil, fmt.Errorf("frame header declared %d bytes but decoded %d: %w",
			h.ContentSize, len(out)-start, errs.ErrCodec)
	}

	return out, nil
}

// DecompressCapped decompresses the first frame of src without requiring a
// recorded content size; maxSize caps the output to bound memory against
// hostile input. Output larger than maxSize fails with errs.ErrCodec.
func (d *Decompressor) DecompressCapped(dst, src []byte, maxSize int) ([]byte, error) {
	if maxSize < 0 {
		return nil, fmt.Errorf("max size %d must not be negative: %w", maxSize, errs.ErrInvalidParameter)
	}
	if !d.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("decompressor: %w", errs.ErrAlreadyActive)
	}
	defer d.active.Store(false)

	h, err := frame.ParseHeader(src, d.format)
	if err != nil {
		return nil, err
	}
	if h.Skippable {
		return dst, nil
	}
	if h.ContentSize >= 0 && h.ContentSize > int64(maxSize) {
		return nil, fmt.Errorf("frame declares %d bytes, cap is %d: %w", h.ContentSize, maxSize, errs.ErrCodec)
	}

	fsrc, err := d.firstFrame(src)
	if err != nil {
		return nil, err
	}
	cfg, err := d.decoderConfig()
	if err != nil {
		return nil, err
	}
	// The hard cap is enforced on the read loop below; the backend budget
	// only needs to admit the frame's window.
	cfg.MaxMemory = max(int64(maxSize), int64(h.WindowSize))

	fd, err := d.backend.NewFrameDecoder(bytes.NewReader(fsrc), cfg)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	start := len(dst)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := fd.Read(buf)
		if n > 0 {
			if len(dst)-start+n > maxSize {
				return nil, fmt.Errorf("output exceeds cap of %d bytes: %w", maxSize, errs.ErrCodec)
			}
			dst = append(dst, buf[:n]...)
		}
		if rerr == io.EOF {
			return dst, nil
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// NewReader returns a Reader producing the decompressed form of src. By
// default it stops at the first frame boundary; NextFrame advances to the
// following frame, and WithReadAcrossFrames removes the boundary entirely.
func (d *Decompressor) NewReader(src io.Reader, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{}
	if err := options.Apply(r, opts...); err != nil {
		return nil, err
	}
	// Reading across frames in magic-less format still runs through the
	// frame splitter; the Reader chains frames itself on EOF.
	e, err := d.newEngine(src, !r.across || d.format == frame.FormatMagicless)
	if err != nil {
		return nil, err
	}
	r.engine = e

	return r, nil
}

// NewWriter returns a DecompressWriter decompressing everything written to
// it into dst.
func (d *Decompressor) NewWriter(dst io.Writer) (*DecompressWriter, error) {
	return newDecompressWriter(d, dst)
}

// CopyStream decompresses src into dst until src is exhausted, returning the
// number of compressed bytes read and decompressed bytes written. Multiple
// concatenated frames are all decoded.
func (d *Decompressor) CopyStream(dst io.Writer, src io.Reader) (read, written int64, err error) {
	r, err := d.NewReader(src, WithReadAcrossFrames())
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	buf := make([]byte, copyStreamSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return r.engine.consumedInput(), written, werr
			}
			if wn != n {
				return r.engine.consumedInput(), written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return r.engine.consumedInput(), written, nil
		}
		if rerr != nil {
			return r.engine.consumedInput(), written, rerr
		}
	}
}
