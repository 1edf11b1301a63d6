package zstream

import (
	"fmt"
	"io"

	"github.com/arloliu/zstream/codec"
	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/frame"
	"github.com/arloliu/zstream/internal/pool"
)

// FlushMode selects the flush granularity for streaming compression.
type FlushMode uint8

const (
	// FlushBlock ends the current codec block. The frame stays open and may
	// be flushed again; decompressors can decode everything emitted so far.
	FlushBlock FlushMode = iota
	// FlushFrame closes the current frame. Any subsequent input starts a
	// new, independently decodable frame.
	FlushFrame
)

type engineState uint8

const (
	engineIdle engineState = iota
	engineActive
	engineFlushing
	engineClosed
	engineErrored
)

// compressEngine drives one incremental compression operation. It owns the
// backend frame encoder and a staging buffer receiving codec output before
// it is handed to the consumer.
//
// Exactly one engine may be active per Compressor at a time; construction
// claims the slot and close releases it on every path, including errors.
type compressEngine struct {
	owner   *Compressor
	enc     codec.FrameEncoder
	staging *pool.ByteBuffer
	state   engineState
	cause   error

	// frameOpen marks undelivered frame state since the last frame flush.
	frameOpen bool
	// finishedOnce marks that some frame flush has happened, so a trailing
	// no-op frame flush does not emit a spurious empty frame.
	finishedOnce bool
	// magicRemaining counts magic-prefix bytes still to strip from the
	// current frame's output in magic-less mode.
	magicRemaining int

	consumed int64
	produced int64
}

func (c *Compressor) newEngine(pledgedSize int64) (*compressEngine, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("compressor: %w", errs.ErrAlreadyActive)
	}
	cfg, err := c.encoderConfig(pledgedSize)
	if err != nil {
		c.active.Store(false)

		return nil, err
	}
	enc, err := c.backend.NewFrameEncoder(cfg)
	if err != nil {
		c.active.Store(false)

		return nil, err
	}

	e := &compressEngine{
		owner:   c,
		enc:     enc,
		staging: pool.Staging.Get(),
	}
	if c.format == frame.FormatMagicless {
		e.magicRemaining = frame.MagicSize
	}

	return e, nil
}

// enter validates that the engine can accept another call.
func (e *compressEngine) enter() error {
	switch e.state {
	case engineClosed:
		return fmt.Errorf("compress engine: %w", errs.ErrEngineClosed)
	case engineErrored:
		return fmt.Errorf("compress engine previously failed: %w", e.cause)
	default:
		return nil
	}
}

func (e *compressEngine) fail(err error) error {
	e.state = engineErrored
	e.cause = err

	return err
}

// stage copies codec output into the staging buffer, stripping the frame
// magic in magic-less mode, and returns a view valid until the next call.
func (e *compressEngine) stage(out []byte) []byte {
	if e.magicRemaining > 0 && len(out) > 0 {
		n := min(e.magicRemaining, len(out))
		out = out[n:]
		e.magicRemaining -= n
	}
	e.staging.Reset()
	e.staging.MustWrite(out)
	e.produced += int64(len(out))

	return e.staging.Bytes()
}

// feed pushes one input chunk through the codec and returns whatever output
// it produced. Empty output means the codec wants more input.
func (e *compressEngine) feed(in []byte) ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	e.state = engineActive
	if len(in) > 0 {
		e.frameOpen = true
	}
	out, err := e.enc.Encode(in)
	if err != nil {
		return nil, e.fail(err)
	}
	e.consumed += int64(len(in))

	return e.stage(out), nil
}

// flush drains the codec at the requested granularity and returns the
// flushed bytes. A frame flush on an engine whose frame is already closed is
// a no-op unless the engine never produced a frame at all, in which case it
// emits a valid empty frame.
func (e *compressEngine) flush(mode FlushMode) ([]byte, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}

	if mode == FlushFrame && !e.frameOpen && e.finishedOnce {
		return nil, nil
	}

	e.state = engineFlushing
	var (
		out []byte
		err error
	)
	if mode == FlushBlock {
		e.frameOpen = true
		out, err = e.enc.Flush()
	} else {
		out, err = e.enc.EndFrame()
	}
	if err != nil {
		return nil, e.fail(err)
	}
	staged := e.stage(out)

	e.state = engineActive
	if mode == FlushFrame {
		e.frameOpen = false
		e.finishedOnce = true
		if e.owner.format == frame.FormatMagicless {
			e.magicRemaining = frame.MagicSize
		}
	}

	return staged, nil
}

// close releases the encoder and staging buffer and frees the owner's
// engine slot. Closing with an open, un-flushed frame leaves whatever was
// already delivered as a truncated frame; that is the caller's error, and
// close never emits corrective output.
func (e *compressEngine) close() error {
	if e.state == engineClosed {
		return nil
	}
	e.state = engineClosed
	err := e.enc.Close()
	pool.Staging.Put(e.staging)
	e.staging = nil
	e.owner.active.Store(false)

	return err
}

// decompressEngine drives one incremental decompression operation. The
// codec signals completion itself (io.EOF); there is no caller-driven flush.
type decompressEngine struct {
	owner  *Decompressor
	dec    codec.FrameDecoder
	split  *frame.Splitter
	count  *countingReader
	closed bool
	cause  error

	produced int64
}

// newEngine claims the decompressor's engine slot and builds a frame
// decoder over src. perFrame bounds each decode at a frame boundary via a
// frame splitter; magic-less sources always run through the splitter, which
// re-injects the magic the backends require.
func (d *Decompressor) newEngine(src io.Reader, perFrame bool) (*decompressEngine, error) {
	if !d.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("decompressor: %w", errs.ErrAlreadyActive)
	}
	cfg, err := d.decoderConfig()
	if err != nil {
		d.active.Store(false)

		return nil, err
	}

	e := &decompressEngine{owner: d}
	var rd io.Reader
	if perFrame || d.format == frame.FormatMagicless {
		e.split = frame.NewSplitter(src, d.format)
		rd = e.split
	} else {
		e.count = &countingReader{r: src}
		rd = e.count
	}
	dec, err := d.backend.NewFrameDecoder(rd, cfg)
	if err != nil {
		d.active.Store(false)

		return nil, err
	}
	e.dec = dec

	return e, nil
}

func (e *decompressEngine) read(p []byte) (int, error) {
	if e.closed {
		return 0, fmt.Errorf("decompress engine: %w", errs.ErrEngineClosed)
	}
	if e.cause != nil {
		return 0, fmt.Errorf("decompress engine previously failed: %w", e.cause)
	}
	n, err := e.dec.Read(p)
	e.produced += int64(n)
	if err != nil && err != io.EOF {
		e.cause = err
	}

	return n, err
}

// consumedInput returns the number of compressed source bytes consumed so
// far, used to account for trailing bytes in multi-frame streams.
func (e *decompressEngine) consumedInput() int64 {
	if e.split != nil {
		return e.split.Consumed()
	}

	return e.count.n
}

// nextFrame re-arms a per-frame engine for the following frame, reporting
// false when the source is exhausted.
func (e *decompressEngine) nextFrame() (bool, error) {
	if e.closed {
		return false, fmt.Errorf("decompress engine: %w", errs.ErrEngineClosed)
	}
	if e.split == nil {
		return false, fmt.Errorf("engine reads across frames: %w", errs.ErrInvalidParameter)
	}
	ok, err := e.split.NextFrame()
	if err != nil || !ok {
		return false, err
	}
	if err := e.dec.Reset(e.split); err != nil {
		e.cause = err

		return false, err
	}

	return true, nil
}

func (e *decompressEngine) close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.dec.Close()
	e.owner.active.Store(false)

	return err
}

// countingReader tracks bytes consumed from an upstream source.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err
}
