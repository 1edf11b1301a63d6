package zstream

import (
	"fmt"
	"io"

	"github.com/arloliu/zstream/errs"
)

// Writer compresses everything written to it and forwards the compressed
// bytes to the destination writer. Not safe for concurrent use.
//
// Close ends the open frame before releasing the operation, so a plain
// Write-then-Close sequence always produces complete, decodable output. If
// a codec error already occurred, Close only releases resources; the bytes
// delivered so far form a truncated frame.
type Writer struct {
	dst     io.Writer
	engine  *compressEngine
	pledged int64
	closed  bool

	consumedFinal int64
	producedFinal int64
}

// writeOut forwards staged codec output to the destination.
func (w *Writer) writeOut(out []byte) error {
	if len(out) == 0 {
		return nil
	}
	n, err := w.dst.Write(out)
	if err != nil {
		return w.engine.fail(err)
	}
	if n != len(out) {
		return w.engine.fail(fmt.Errorf("destination accepted %d of %d bytes: %w", n, len(out), io.ErrShortWrite))
	}

	return nil
}

// Write compresses p. The return value counts input bytes consumed, not
// compressed bytes produced; the codec may buffer internally and emit
// nothing until a later call.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, w.closedErr()
	}
	out, err := w.engine.feed(p)
	if err != nil {
		return 0, err
	}
	if err := w.writeOut(out); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Flush drains buffered data at the requested granularity. FlushFrame closes
// the current frame; further writes start a new one.
func (w *Writer) Flush(mode FlushMode) error {
	if w.closed {
		return w.closedErr()
	}
	out, err := w.engine.flush(mode)
	if err != nil {
		return err
	}

	return w.writeOut(out)
}

// Close ends the open frame, forwards the remaining output and releases the
// operation. Closing twice is harmless. If the engine already failed, Close
// skips the final flush and only releases resources.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var flushErr error
	if w.engine.state != engineErrored {
		if err := w.verifyPledge(); err != nil {
			flushErr = err
		} else if out, err := w.engine.flush(FlushFrame); err != nil {
			flushErr = err
		} else {
			flushErr = w.writeOut(out)
		}
	}

	w.consumedFinal = w.engine.consumed
	w.producedFinal = w.engine.produced
	closeErr := w.engine.close()
	if flushErr != nil {
		return flushErr
	}

	return closeErr
}

// verifyPledge checks the declared input size against bytes actually fed.
func (w *Writer) verifyPledge() error {
	if w.pledged >= 0 && w.engine.consumed != w.pledged {
		return w.engine.fail(fmt.Errorf("pledged %d input bytes but received %d: %w",
			w.pledged, w.engine.consumed, io.ErrUnexpectedEOF))
	}

	return nil
}

// Consumed returns the number of input bytes accepted so far.
func (w *Writer) Consumed() int64 {
	if w.closed {
		return w.consumedFinal
	}

	return w.engine.consumed
}

// Produced returns the number of compressed bytes emitted so far.
func (w *Writer) Produced() int64 {
	if w.closed {
		return w.producedFinal
	}

	return w.engine.produced
}

func (w *Writer) closedErr() error {
	return fmt.Errorf("writer: %w", errs.ErrEngineClosed)
}
