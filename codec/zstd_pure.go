package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/arloliu/zstream/errs"
)

// pureWindowLogMax caps the window passed to the pure backend's encoder; the
// library rejects windows above this.
const pureWindowLogMax = 27

// singleSegmentMax bounds the one-shot inputs encoded as single-segment
// frames. The frame header can only record content sizes below 256 in
// single-segment form, and the library does not raise the flag itself for
// inputs this small, so without it tiny frames would lose their size.
const singleSegmentMax = 256

// Pure returns the pure-Go backend. It is always available.
func Pure() Backend {
	return pureBackend{}
}

type pureBackend struct{}

func (pureBackend) Name() string    { return "purego" }
func (pureBackend) Available() bool { return true }

func (pureBackend) CompressBound(srcLen int) int {
	return compressBound(srcLen)
}

// zstdDecoderPool pools decoders with default settings for one-shot
// decompression. The decoder is designed to operate without allocations
// after a warmup, so pooled instances are markedly cheaper than fresh ones.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			// This should never happen with valid options.
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}

		return decoder
	},
}

// encPoolKey identifies one pooled encoder configuration. Only plain
// configurations (no dictionary, no window override) are pooled.
type encPoolKey struct {
	level    zstd.EncoderLevel
	checksum bool
	single   bool
}

var zstdEncoderPools sync.Map // encPoolKey -> *sync.Pool

func pooledEncoder(key encPoolKey) (*zstd.Encoder, *sync.Pool) {
	v, _ := zstdEncoderPools.LoadOrStore(key, &sync.Pool{
		New: func() any {
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(key.level),
				zstd.WithEncoderCRC(key.checksum),
				zstd.WithZeroFrames(true),
				zstd.WithSingleSegment(key.single),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				// This should never happen with valid options.
				panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
			}

			return encoder
		},
	})
	p, _ := v.(*sync.Pool)
	enc, _ := p.Get().(*zstd.Encoder)

	return enc, p
}

// pureDigested is the pure backend's digested dictionary: the validated
// content plus how to hand it to the library.
type pureDigested struct {
	content []byte
	id      uint32
	raw     bool
}

func (*pureDigested) Release() {}

func (b pureBackend) DigestDict(content []byte, raw bool, dir Direction, level int) (DigestedDict, error) {
	d := &pureDigested{content: content, raw: raw}
	if !raw {
		// Surface structural problems now rather than on first use: loading
		// the dictionary into a decoder parses its entropy tables.
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderDicts(content),
		)
		if err != nil {
			return nil, fmt.Errorf("purego: digest dictionary: %v: %w", err, errs.ErrDictionary)
		}
		dec.Close()
	}
	_ = dir
	_ = level

	return d, nil
}

func (b pureBackend) encoderOptions(cfg EncoderConfig, streaming bool) ([]zstd.EOption, error) {
	concurrency := cfg.Concurrency
	if streaming || concurrency < 1 {
		concurrency = 1
	}
	opts := []zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.Level)),
		zstd.WithEncoderCRC(cfg.Checksum),
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(concurrency),
	}
	if cfg.WindowLog > 0 {
		wlog := min(cfg.WindowLog, pureWindowLogMax)
		opts = append(opts, zstd.WithWindowSize(1<<wlog))
	}
	if cfg.Dict != nil {
		pd, ok := cfg.Dict.(*pureDigested)
		if !ok {
			return nil, fmt.Errorf("dictionary was digested for a different backend: %w", errs.ErrInvalidParameter)
		}
		if pd.raw {
			opts = append(opts, zstd.WithEncoderDictRaw(pd.id, pd.content))
		} else {
			opts = append(opts, zstd.WithEncoderDict(pd.content))
		}
	}

	return opts, nil
}

func (b pureBackend) decoderOptions(cfg DecoderConfig) ([]zstd.DOption, error) {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(concurrency),
	}
	if cfg.MaxWindowSize > 0 {
		opts = append(opts, zstd.WithDecoderMaxWindow(uint64(cfg.MaxWindowSize)))
	}
	if cfg.MaxMemory > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(uint64(cfg.MaxMemory)))
	}
	if cfg.Dict != nil {
		pd, ok := cfg.Dict.(*pureDigested)
		if !ok {
			return nil, fmt.Errorf("dictionary was digested for a different backend: %w", errs.ErrInvalidParameter)
		}
		if pd.raw {
			opts = append(opts, zstd.WithDecoderDictRaw(pd.id, pd.content))
		} else {
			opts = append(opts, zstd.WithDecoderDicts(pd.content))
		}
	}

	return opts, nil
}

// plainEncoderConfig reports whether cfg can be served by a pooled encoder.
func plainEncoderConfig(cfg EncoderConfig) bool {
	return cfg.Dict == nil && cfg.WindowLog == 0 && cfg.Concurrency <= 1
}

func plainDecoderConfig(cfg DecoderConfig) bool {
	return cfg.Dict == nil && cfg.MaxWindowSize == 0 && cfg.MaxMemory == 0 && cfg.Concurrency <= 1
}

func (b pureBackend) Compress(dst, src []byte, cfg EncoderConfig) ([]byte, error) {
	// The one-shot encoder always records the content size it knows. When
	// the caller asked for it to be omitted, run the streaming path, which
	// never records one.
	if !cfg.ContentSize && len(src) > 0 {
		return b.compressStreaming(dst, src, cfg)
	}

	single := len(src) > 0 && len(src) < singleSegmentMax

	if plainEncoderConfig(cfg) {
		enc, p := pooledEncoder(encPoolKey{
			level:    zstd.EncoderLevelFromZstd(cfg.Level),
			checksum: cfg.Checksum,
			single:   single,
		})
		defer p.Put(enc)

		return enc.EncodeAll(src, dst), nil
	}

	opts, err := b.encoderOptions(cfg, false)
	if err != nil {
		return nil, err
	}
	if single {
		opts = append(opts, zstd.WithSingleSegment(true))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, wrapCodecErr("purego", "compress", err)
	}
	out := enc.EncodeAll(src, dst)
	if err := enc.Close(); err != nil {
		return nil, wrapCodecErr("purego", "compress", err)
	}

	return out, nil
}

func (b pureBackend) compressStreaming(dst, src []byte, cfg EncoderConfig) ([]byte, error) {
	fe, err := b.NewFrameEncoder(cfg)
	if err != nil {
		return nil, err
	}
	defer fe.Close()

	out, err := fe.Encode(src)
	if err != nil {
		return nil, err
	}
	dst = append(dst, out...)
	out, err = fe.EndFrame()
	if err != nil {
		return nil, err
	}

	return append(dst, out...), nil
}

func (b pureBackend) Decompress(dst, src []byte, cfg DecoderConfig) ([]byte, error) {
	if plainDecoderConfig(cfg) {
		dec, _ := zstdDecoderPool.Get().(*zstd.Decoder)
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(src, dst)
		if err != nil {
			return nil, wrapCodecErr("purego", "decompress", err)
		}

		return out, nil
	}

	opts, err := b.decoderOptions(cfg)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, wrapCodecErr("purego", "decompress", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(src, dst)
	if err != nil {
		return nil, wrapCodecErr("purego", "decompress", err)
	}

	return out, nil
}

// pureFrameEncoder adapts the library's push writer to the feed-shaped
// FrameEncoder contract by collecting its output in an internal buffer.
type pureFrameEncoder struct {
	enc *zstd.Encoder
	buf bytes.Buffer
	// dirty marks an open frame holding undelivered state.
	dirty bool
}

func (b pureBackend) NewFrameEncoder(cfg EncoderConfig) (FrameEncoder, error) {
	opts, err := b.encoderOptions(cfg, true)
	if err != nil {
		return nil, err
	}
	fe := &pureFrameEncoder{}
	enc, err := zstd.NewWriter(&fe.buf, opts...)
	if err != nil {
		return nil, wrapCodecErr("purego", "new frame encoder", err)
	}
	fe.enc = enc
	if cfg.ContentSize && cfg.PledgedSize >= 0 {
		// Record the pledge in the first frame's header. The library
		// verifies the pledge when the frame is closed; feeding a different
		// amount surfaces as an EndFrame error.
		enc.ResetContentSize(&fe.buf, cfg.PledgedSize)
	}

	return fe, nil
}

func (e *pureFrameEncoder) Encode(in []byte) ([]byte, error) {
	e.buf.Reset()
	if len(in) == 0 {
		return nil, nil
	}
	e.dirty = true
	if _, err := e.enc.Write(in); err != nil {
		return nil, wrapCodecErr("purego", "encode", err)
	}

	return e.buf.Bytes(), nil
}

func (e *pureFrameEncoder) Flush() ([]byte, error) {
	e.buf.Reset()
	e.dirty = true
	if err := e.enc.Flush(); err != nil {
		return nil, wrapCodecErr("purego", "flush", err)
	}

	return e.buf.Bytes(), nil
}

func (e *pureFrameEncoder) EndFrame() ([]byte, error) {
	e.buf.Reset()
	e.dirty = false
	if err := e.enc.Close(); err != nil {
		return nil, wrapCodecErr("purego", "end frame", err)
	}
	out := e.buf.Bytes()
	// Arm the next frame. The reset encoder writes nothing until fed again;
	// any pledge applied to the first frame does not carry over, since the
	// size of frames after an explicit frame flush is unknown.
	e.enc.Reset(&e.buf)

	return out, nil
}

func (e *pureFrameEncoder) Close() error {
	if e.dirty {
		// Release the open frame's state. Its tail lands in the buffer and
		// is discarded: an unfinished frame is truncated by definition.
		_ = e.enc.Close()
		e.dirty = false
	}
	e.buf.Reset()

	return nil
}

type pureFrameDecoder struct {
	dec *zstd.Decoder
}

func (b pureBackend) NewFrameDecoder(src io.Reader, cfg DecoderConfig) (FrameDecoder, error) {
	opts, err := b.decoderOptions(cfg)
	if err != nil {
		return nil, err
	}
	// Streaming decode is strictly demand-driven with a single worker.
	opts = append(opts, zstd.WithDecoderConcurrency(1))
	dec, err := zstd.NewReader(src, opts...)
	if err != nil {
		return nil, wrapCodecErr("purego", "new frame decoder", err)
	}

	return &pureFrameDecoder{dec: dec}, nil
}

func (d *pureFrameDecoder) Read(p []byte) (int, error) {
	n, err := d.dec.Read(p)
	if err != nil && err != io.EOF {
		return n, wrapCodecErr("purego", "decode", err)
	}

	return n, err
}

func (d *pureFrameDecoder) Reset(src io.Reader) error {
	if err := d.dec.Reset(src); err != nil {
		return wrapCodecErr("purego", "reset decoder", err)
	}

	return nil
}

func (d *pureFrameDecoder) Close() error {
	d.dec.Close()

	return nil
}
