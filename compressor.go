package zstream

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/arloliu/zstream/codec"
	"github.com/arloliu/zstream/dict"
	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/frame"
	"github.com/arloliu/zstream/internal/options"
	"github.com/arloliu/zstream/internal/pool"
	"github.com/arloliu/zstream/params"
)

// Compressor holds reusable compression configuration and spawns compression
// operations: one-shot Compress, the streaming Writer, the pull-style
// CompressReader, the fixed-size Chunker and the batch CompressMany.
//
// A Compressor runs at most one streaming operation at a time; starting a
// second before the first is closed fails with errs.ErrAlreadyActive.
// Configuration is immutable after construction, so a Compressor may be
// shared across goroutines as long as operations are serialized.
type Compressor struct {
	level       int
	explicit    *params.Set
	dictionary  *dict.Dictionary
	checksum    bool
	contentSize bool
	concurrency int
	backend     codec.Backend
	format      frame.Format

	levelSet bool
	active   atomic.Bool
}

// CompressorOption configures a Compressor.
type CompressorOption = options.Option[*Compressor]

// WithEncoderLevel sets the compression level. Levels below zero trade ratio
// for speed; the valid range is [params.MinLevel, params.MaxLevel].
// Mutually exclusive with WithEncoderParams.
func WithEncoderLevel(level int) CompressorOption {
	return options.New(func(c *Compressor) error {
		if level < params.MinLevel || level > params.MaxLevel {
			return fmt.Errorf("compression level %d outside [%d, %d]: %w",
				level, params.MinLevel, params.MaxLevel, errs.ErrInvalidParameter)
		}
		if c.explicit != nil {
			return fmt.Errorf("level conflicts with explicit parameters: %w", errs.ErrInvalidParameter)
		}
		c.level = level
		c.levelSet = true

		return nil
	})
}

// WithEncoderParams sets explicit advanced parameters, bypassing level-based
// resolution. The set is validated eagerly. Mutually exclusive with
// WithEncoderLevel.
func WithEncoderParams(set params.Set) CompressorOption {
	return options.New(func(c *Compressor) error {
		if c.levelSet {
			return fmt.Errorf("explicit parameters conflict with level: %w", errs.ErrInvalidParameter)
		}
		if err := set.Validate(); err != nil {
			return err
		}
		c.explicit = &set
		c.level = set.Level

		return nil
	})
}

// WithEncoderDict attaches a dictionary. Its digested form is resolved once
// per (backend, level) and reused by every operation on this Compressor.
func WithEncoderDict(d *dict.Dictionary) CompressorOption {
	return options.New(func(c *Compressor) error {
		if d == nil {
			return fmt.Errorf("dictionary must not be nil: %w", errs.ErrInvalidParameter)
		}
		c.dictionary = d

		return nil
	})
}

// WithEncoderChecksum controls the per-frame content checksum. Off by
// default.
func WithEncoderChecksum(enable bool) CompressorOption {
	return options.NoError(func(c *Compressor) {
		c.checksum = enable
	})
}

// WithEncoderContentSize controls whether frame headers record the
// decompressed size when it is known up front. On by default; one-shot
// compression always knows the size, streaming operations record it only
// when the caller pledges it. The pure backend cannot represent pledges
// below 256 bytes in a streaming frame header and omits them; the cgo
// backend records no pledges at all.
func WithEncoderContentSize(enable bool) CompressorOption {
	return options.NoError(func(c *Compressor) {
		c.contentSize = enable
	})
}

// WithEncoderConcurrency sets the number of codec worker goroutines for
// backends that parallelize. Defaults to 1 for deterministic output.
func WithEncoderConcurrency(n int) CompressorOption {
	return options.New(func(c *Compressor) error {
		if n < 1 {
			return fmt.Errorf("concurrency %d must be at least 1: %w", n, errs.ErrInvalidParameter)
		}
		c.concurrency = n

		return nil
	})
}

// WithEncoderBackend selects the codec backend. The backend must be
// available in the current build.
func WithEncoderBackend(b codec.Backend) CompressorOption {
	return options.New(func(c *Compressor) error {
		if b == nil {
			return fmt.Errorf("backend must not be nil: %w", errs.ErrInvalidParameter)
		}
		if !b.Available() {
			return fmt.Errorf("backend %q: %w", b.Name(), errs.ErrBackendUnavailable)
		}
		c.backend = b

		return nil
	})
}

// WithEncoderFormat selects the output frame format. FormatMagicless drops
// the 4-byte magic from every emitted frame; such output only decodes with a
// Decompressor configured for the same format.
func WithEncoderFormat(f frame.Format) CompressorOption {
	return options.New(func(c *Compressor) error {
		if f != frame.FormatZstd1 && f != frame.FormatMagicless {
			return fmt.Errorf("unknown frame format %d: %w", f, errs.ErrInvalidParameter)
		}
		c.format = f

		return nil
	})
}

// NewCompressor creates a Compressor. Defaults: level 3, content size
// recorded when known, no checksum, single codec worker, pure-Go backend,
// standard frame format.
func NewCompressor(opts ...CompressorOption) (*Compressor, error) {
	c := &Compressor{
		level:       params.DefaultLevel,
		contentSize: true,
		concurrency: 1,
		backend:     codec.Default(),
		format:      frame.FormatZstd1,
	}
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}

	return c, nil
}

// resolveParams produces the effective parameter set for a source of
// srcSize bytes (negative when unknown).
func (c *Compressor) resolveParams(srcSize int64) (params.Set, error) {
	if c.explicit != nil {
		return *c.explicit, nil
	}
	var dictSize int64
	if c.dictionary != nil {
		dictSize = int64(c.dictionary.Len())
	}

	return params.Resolve(c.level, srcSize, dictSize)
}

// encoderConfig builds the backend configuration for one operation.
func (c *Compressor) encoderConfig(srcSize int64) (codec.EncoderConfig, error) {
	set, err := c.resolveParams(srcSize)
	if err != nil {
		return codec.EncoderConfig{}, err
	}

	var dd codec.DigestedDict
	if c.dictionary != nil {
		dd, err = c.dictionary.Digest(c.backend, codec.DirCompress, set.Level)
		if err != nil {
			return codec.EncoderConfig{}, err
		}
	}

	return codec.EncoderConfig{
		Level:       set.Level,
		WindowLog:   set.WindowLog,
		Checksum:    c.checksum,
		ContentSize: c.contentSize,
		Concurrency: c.concurrency,
		Dict:        dd,
		PledgedSize: srcSize,
	}, nil
}

// CompressBound returns the worst-case compressed size for srcLen input
// bytes, suitable for sizing destination buffers up front.
func (c *Compressor) CompressBound(srcLen int) int {
	return c.backend.CompressBound(srcLen)
}

// Compress compresses src into a single frame appended to dst and returns
// the extended slice. dst may be nil.
func (c *Compressor) Compress(dst, src []byte) ([]byte, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("compressor: %w", errs.ErrAlreadyActive)
	}
	defer c.active.Store(false)

	return c.compressOne(dst, src)
}

// compressOne is the lock-free core of Compress, shared with the batch path
// which manages the operation slot itself.
func (c *Compressor) compressOne(dst, src []byte) ([]byte, error) {
	cfg, err := c.encoderConfig(int64(len(src)))
	if err != nil {
		return nil, err
	}
	start := len(dst)
	out, err := c.backend.Compress(dst, src, cfg)
	if err != nil {
		return nil, err
	}
	if c.format == frame.FormatMagicless {
		if len(out)-start < frame.MagicSize {
			return nil, fmt.Errorf("frame shorter than its magic: %w", errs.ErrCodec)
		}
		out = append(out[:start], out[start+frame.MagicSize:]...)
	}

	return out, nil
}

// NewWriter returns a Writer compressing everything written to it into dst.
// pledgedSize declares the total input size up front; pass a negative value
// when unknown. A wrong pledge fails at flush or close time.
func (c *Compressor) NewWriter(dst io.Writer, pledgedSize int64) (*Writer, error) {
	e, err := c.newEngine(pledgedSize)
	if err != nil {
		return nil, err
	}

	return &Writer{dst: dst, engine: e, pledged: pledgedSize}, nil
}

// NewReader returns a CompressReader producing the compressed form of src.
// pledgedSize declares src's total size up front; pass a negative value when
// unknown.
func (c *Compressor) NewReader(src io.Reader, pledgedSize int64) (*CompressReader, error) {
	e, err := c.newEngine(pledgedSize)
	if err != nil {
		return nil, err
	}

	return &CompressReader{src: src, engine: e, pledged: pledgedSize, readBuf: make([]byte, compressReadSize)}, nil
}

// NewChunker returns a Chunker emitting compressed output in chunks of
// exactly chunkSize bytes (the final chunk may be shorter).
func (c *Compressor) NewChunker(chunkSize int, pledgedSize int64) (*Chunker, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size %d must be at least 1: %w", chunkSize, errs.ErrInvalidParameter)
	}
	e, err := c.newEngine(pledgedSize)
	if err != nil {
		return nil, err
	}

	return &Chunker{engine: e, size: chunkSize, acc: pool.Staging.Get()}, nil
}

// CopyStream compresses src into dst until src is exhausted, returning the
// number of bytes read and written. The output forms one complete frame.
func (c *Compressor) CopyStream(dst io.Writer, src io.Reader) (read, written int64, err error) {
	w, err := c.NewWriter(dst, -1)
	if err != nil {
		return 0, 0, err
	}

	buf := make([]byte, copyStreamSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				_ = w.Close()

				return w.Consumed(), w.Produced(), werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = w.Close()

			return w.Consumed(), w.Produced(), rerr
		}
	}
	if err := w.Close(); err != nil {
		return w.Consumed(), w.Produced(), err
	}

	return w.Consumed(), w.Produced(), nil
}

const (
	compressReadSize = 128 * 1024
	copyStreamSize   = 128 * 1024
)
