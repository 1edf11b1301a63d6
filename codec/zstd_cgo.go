//go:build cgo

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/valyala/gozstd"

	"github.com/arloliu/zstream/errs"
)

// Cgo returns the libzstd-backed backend.
//
// It produces true digested dictionaries (CDict/DDict), so repeated
// operations against one Dictionary amortize the digestion cost the way the
// reference implementation does. Content checksums and explicit window
// ceilings are not configurable through the bound library and are rejected
// with errs.ErrInvalidParameter rather than silently dropped; pledged sizes
// are not recorded (the library exposes no pledge API). Use the pure backend
// when those matter.
func Cgo() Backend {
	return cgoBackend{}
}

type cgoBackend struct{}

func (cgoBackend) Name() string    { return "cgo" }
func (cgoBackend) Available() bool { return true }

func (cgoBackend) CompressBound(srcLen int) int {
	return compressBound(srcLen)
}

type cgoCDict struct {
	cd *gozstd.CDict
}

func (d *cgoCDict) Release() {
	if d.cd != nil {
		d.cd.Release()
		d.cd = nil
	}
}

type cgoDDict struct {
	dd *gozstd.DDict
}

func (d *cgoDDict) Release() {
	if d.dd != nil {
		d.dd.Release()
		d.dd = nil
	}
}

func (cgoBackend) DigestDict(content []byte, raw bool, dir Direction, level int) (DigestedDict, error) {
	if raw {
		return nil, fmt.Errorf("cgo backend does not support raw-content dictionaries: %w", errs.ErrDictionary)
	}
	if dir == DirCompress {
		cd, err := gozstd.NewCDictLevel(content, level)
		if err != nil {
			return nil, fmt.Errorf("cgo: digest dictionary: %v: %w", err, errs.ErrDictionary)
		}

		return &cgoCDict{cd: cd}, nil
	}

	dd, err := gozstd.NewDDict(content)
	if err != nil {
		return nil, fmt.Errorf("cgo: digest dictionary: %v: %w", err, errs.ErrDictionary)
	}

	return &cgoDDict{dd: dd}, nil
}

// cgoCheckEncoder rejects encoder settings the bound library cannot honor.
func cgoCheckEncoder(cfg EncoderConfig) error {
	if cfg.Checksum {
		return fmt.Errorf("cgo backend does not support content checksums: %w", errs.ErrInvalidParameter)
	}

	return nil
}

// cgoCheckDecoder rejects decoder settings the bound library cannot honor.
func cgoCheckDecoder(cfg DecoderConfig) error {
	if cfg.MaxWindowSize > 0 {
		return fmt.Errorf("cgo backend does not support window ceilings: %w", errs.ErrInvalidParameter)
	}

	return nil
}

func cgoCompressDict(cfg EncoderConfig) (*gozstd.CDict, error) {
	if cfg.Dict == nil {
		return nil, nil
	}
	cd, ok := cfg.Dict.(*cgoCDict)
	if !ok {
		return nil, fmt.Errorf("dictionary was digested for a different backend: %w", errs.ErrInvalidParameter)
	}

	return cd.cd, nil
}

func cgoDecompressDict(cfg DecoderConfig) (*gozstd.DDict, error) {
	if cfg.Dict == nil {
		return nil, nil
	}
	dd, ok := cfg.Dict.(*cgoDDict)
	if !ok {
		return nil, fmt.Errorf("dictionary was digested for a different backend: %w", errs.ErrInvalidParameter)
	}

	return dd.dd, nil
}

func (b cgoBackend) Compress(dst, src []byte, cfg EncoderConfig) ([]byte, error) {
	if err := cgoCheckEncoder(cfg); err != nil {
		return nil, err
	}
	// libzstd's simple API always records the content size; the streaming
	// path never does.
	if !cfg.ContentSize && len(src) > 0 {
		return b.compressStreaming(dst, src, cfg)
	}

	cd, err := cgoCompressDict(cfg)
	if err != nil {
		return nil, err
	}
	if cd != nil {
		return gozstd.CompressDict(dst, src, cd), nil
	}

	return gozstd.CompressLevel(dst, src, cfg.Level), nil
}

func (b cgoBackend) compressStreaming(dst, src []byte, cfg EncoderConfig) ([]byte, error) {
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

func (b cgoBackend) Decompress(dst, src []byte, cfg DecoderConfig) ([]byte, error) {
	if err := cgoCheckDecoder(cfg); err != nil {
		return nil, err
	}
	dd, err := cgoDecompressDict(cfg)
	if err != nil {
		return nil, err
	}

	var out []byte
	if dd != nil {
		out, err = gozstd.DecompressDict(dst, src, dd)
	} else {
		out, err = gozstd.Decompress(dst, src)
	}
	if err != nil {
		return nil, wrapCodecErr("cgo", "decompress", err)
	}
	if cfg.MaxMemory > 0 && int64(len(out)-len(dst)) > cfg.MaxMemory {
		return nil, fmt.Errorf("cgo decompress: output %d exceeds cap %d: %w", len(out)-len(dst), cfg.MaxMemory, errs.ErrCodec)
	}

	return out, nil
}

// cgoFrameEncoder adapts the library's push writer to the feed-shaped
// FrameEncoder contract by collecting its output in an internal buffer.
type cgoFrameEncoder struct {
	zw     *gozstd.Writer
	params *gozstd.WriterParams
	buf    bytes.Buffer
	dirty  bool
}

func (b cgoBackend) NewFrameEncoder(cfg EncoderConfig) (FrameEncoder, error) {
	if err := cgoCheckEncoder(cfg); err != nil {
		return nil, err
	}
	cd, err := cgoCompressDict(cfg)
	if err != nil {
		return nil, err
	}
	fe := &cgoFrameEncoder{
		params: &gozstd.WriterParams{
			CompressionLevel: cfg.Level,
			WindowLog:        cfg.WindowLog,
			Dict:             cd,
		},
	}
	fe.zw = gozstd.NewWriterParams(&fe.buf, fe.params)

	return fe, nil
}

func (e *cgoFrameEncoder) Encode(in []byte) ([]byte, error) {
	e.buf.Reset()
	if len(in) == 0 {
		return nil, nil
	}
	e.dirty = true
	if _, err := e.zw.Write(in); err != nil {
		return nil, wrapCodecErr("cgo", "encode", err)
	}

	return e.buf.Bytes(), nil
}

func (e *cgoFrameEncoder) Flush() ([]byte, error) {
	e.buf.Reset()
	e.dirty = true
	if err := e.zw.Flush(); err != nil {
		return nil, wrapCodecErr("cgo", "flush", err)
	}

	return e.buf.Bytes(), nil
}

func (e *cgoFrameEncoder) EndFrame() ([]byte, error) {
	e.buf.Reset()
	e.dirty = false
	if err := e.zw.Close(); err != nil {
		return nil, wrapCodecErr("cgo", "end frame", err)
	}
	out := e.buf.Bytes()
	e.zw.ResetWriterParams(&e.buf, e.params)

	return out, nil
}

func (e *cgoFrameEncoder) Close() error {
	e.zw.Release()
	e.buf.Reset()

	return nil
}

type cgoFrameDecoder struct {
	zr *gozstd.Reader
	dd *gozstd.DDict
}

func (b cgoBackend) NewFrameDecoder(src io.Reader, cfg DecoderConfig) (FrameDecoder, error) {
	if err := cgoCheckDecoder(cfg); err != nil {
		return nil, err
	}
	dd, err := cgoDecompressDict(cfg)
	if err != nil {
		return nil, err
	}

	return &cgoFrameDecoder{zr: gozstd.NewReaderDict(src, dd), dd: dd}, nil
}

func (d *cgoFrameDecoder) Read(p []byte) (int, error) {
	n, err := d.zr.Read(p)
	if err != nil && err != io.EOF {
		return n, wrapCodecErr("cgo", "decode", err)
	}

	return n, err
}

func (d *cgoFrameDecoder) Reset(src io.Reader) error {
	d.zr.Reset(src, d.dd)

	return nil
}

func (d *cgoFrameDecoder) Close() error {
	d.zr.Release()

	return nil
}
