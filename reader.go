package zstream

import (
	"fmt"
	"io"

	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/internal/options"
)

// CompressReader compresses an upstream source on demand: each Read pulls
// plain bytes from the source, runs them through the codec and returns the
// compressed form. When the source is exhausted the frame is ended and Read
// reports io.EOF after the final bytes. Not safe for concurrent use.
type CompressReader struct {
	src     io.Reader
	engine  *compressEngine
	pledged int64
	readBuf []byte
	pending []byte

	srcDone  bool
	finished bool
	closed   bool
}

// Read fills p with compressed bytes.
func (r *CompressReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("compress reader: %w", errs.ErrEngineClosed)
	}

	for {
		if len(r.pending) > 0 {
			n := copy(p, r.pending)
			r.pending = r.pending[n:]

			return n, nil
		}
		if r.finished {
			return 0, io.EOF
		}
		if r.srcDone {
			if r.pledged >= 0 && r.engine.consumed != r.pledged {
				return 0, r.engine.fail(fmt.Errorf("pledged %d input bytes but source yielded %d: %w",
					r.pledged, r.engine.consumed, io.ErrUnexpectedEOF))
			}
			out, err := r.engine.flush(FlushFrame)
			if err != nil {
				return 0, err
			}
			r.finished = true
			r.pending = out

			continue
		}

		n, rerr := r.src.Read(r.readBuf)
		if n > 0 {
			out, err := r.engine.feed(r.readBuf[:n])
			if err != nil {
				return 0, err
			}
			r.pending = out
		}
		if rerr == io.EOF {
			r.srcDone = true
		} else if rerr != nil {
			return 0, r.engine.fail(rerr)
		}
	}
}

// Consumed returns the number of source bytes read so far.
func (r *CompressReader) Consumed() int64 {
	return r.engine.consumed
}

// Produced returns the number of compressed bytes emitted so far.
func (r *CompressReader) Produced() int64 {
	return r.engine.produced
}

// Close releases the operation. Output not yet read is discarded; closing
// twice is harmless.
func (r *CompressReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pending = nil

	return r.engine.close()
}

// Reader decompresses an upstream source on demand. By default it stops
// with io.EOF at the first frame boundary; NextFrame advances past it, and
// WithReadAcrossFrames makes Read chain frames transparently instead.
// Not safe for concurrent use.
type Reader struct {
	engine *decompressEngine
	across bool
	closed bool
}

// ReaderOption configures a Reader.
type ReaderOption = options.Option[*Reader]

// WithReadAcrossFrames makes Read decode concatenated frames as one
// continuous stream instead of stopping at each frame boundary.
func WithReadAcrossFrames() ReaderOption {
	return options.NoError(func(r *Reader) {
		r.across = true
	})
}

// Read fills p with decompressed bytes.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("reader: %w", errs.ErrEngineClosed)
	}

	for {
		n, err := r.engine.read(p)
		if err == io.EOF && r.across && r.engine.split != nil {
			ok, nerr := r.engine.nextFrame()
			if nerr != nil {
				return n, nerr
			}
			if !ok {
				return n, io.EOF
			}
			if n > 0 {
				return n, nil
			}

			continue
		}
		if err != nil || n > 0 || len(p) == 0 {
			return n, err
		}
	}
}

// NextFrame advances a frame-bounded Reader to the following frame,
// reporting false when the source is exhausted. Unread output of the current
// frame is discarded. Readers configured to read across frames have no
// boundaries to advance over and fail with errs.ErrInvalidParameter.
func (r *Reader) NextFrame() (bool, error) {
	if r.closed {
		return false, fmt.Errorf("reader: %w", errs.ErrEngineClosed)
	}
	if r.across {
		return false, fmt.Errorf("reader decodes across frames: %w", errs.ErrInvalidParameter)
	}

	return r.engine.nextFrame()
}

// Offset returns the decompressed byte offset, counting all output delivered
// so far.
func (r *Reader) Offset() int64 {
	return r.engine.produced
}

// Consumed returns the number of compressed source bytes consumed so far.
func (r *Reader) Consumed() int64 {
	return r.engine.consumedInput()
}

// Skip discards up to n decompressed bytes and returns how many were
// actually skipped; fewer than n means the stream ended first.
func (r *Reader) Skip(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("cannot skip %d bytes: %w", n, errs.ErrUnsupportedSeek)
	}

	var skipped int64
	buf := make([]byte, 32*1024)
	for skipped < n {
		want := n - skipped
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		m, err := r.Read(buf[:want])
		skipped += int64(m)
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}

// Seek implements io.Seeker for forward motion only: compressed streams
// cannot rewind without re-decoding from the start. Backward seeks,
// io.SeekEnd, and negative targets fail with errs.ErrUnsupportedSeek.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, fmt.Errorf("reader: %w", errs.ErrEngineClosed)
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.Offset() + offset
	default:
		return r.Offset(), fmt.Errorf("seek relative to end: %w", errs.ErrUnsupportedSeek)
	}
	if target < r.Offset() {
		return r.Offset(), fmt.Errorf("seek backwards from %d to %d: %w", r.Offset(), target, errs.ErrUnsupportedSeek)
	}

	if _, err := r.Skip(target - r.Offset()); err != nil {
		return r.Offset(), err
	}

	return r.Offset(), nil
}

// Close releases the operation. Closing twice is harmless.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	return r.engine.close()
}
