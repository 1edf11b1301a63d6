package zstream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/arloliu/zstream/errs"
)

// DecompressWriter decompresses everything written to it and forwards the
// plain bytes to the destination writer. Compressed input may arrive in
// arbitrary fragments; concatenated frames are all decoded.
//
// The codec backends pull their input from an io.Reader, so the writer
// bridges through a pipe to a decoding goroutine. Close ends the input,
// waits for that goroutine to drain and reports any decode error, including
// input that ends mid-frame. Not safe for concurrent use.
type DecompressWriter struct {
	pw     *io.PipeWriter
	engine *decompressEngine
	done   chan struct{}
	closed bool

	consumed int64
	written  atomic.Int64

	mu  sync.Mutex
	err error
}

func newDecompressWriter(d *Decompressor, dst io.Writer) (*DecompressWriter, error) {
	pr, pw := io.Pipe()
	e, err := d.newEngine(pr, false)
	if err != nil {
		pr.Close()
		pw.Close()

		return nil, err
	}

	w := &DecompressWriter{pw: pw, engine: e, done: make(chan struct{})}
	go w.run(dst, pr)

	return w, nil
}

func (w *DecompressWriter) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *DecompressWriter) loadErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// run decodes from the pipe until the input ends or a decode error occurs.
// A decode error also poisons the pipe so pending and future Writes fail
// promptly instead of blocking.
func (w *DecompressWriter) run(dst io.Writer, pr *io.PipeReader) {
	defer close(w.done)

	buf := make([]byte, 32*1024)
	for {
		n, err := w.engine.read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			w.written.Add(int64(wn))
			if werr == nil && wn != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				w.setErr(werr)
				pr.CloseWithError(werr)

				return
			}
		}
		if err == io.EOF {
			if w.engine.split != nil {
				ok, nerr := w.engine.nextFrame()
				if nerr != nil {
					w.setErr(nerr)
					pr.CloseWithError(nerr)

					return
				}
				if ok {
					continue
				}
			}

			return
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("input ended mid-frame: %w", errs.ErrTruncatedFrame)
			}
			w.setErr(err)
			pr.CloseWithError(err)

			return
		}
	}
}

// Write feeds compressed bytes to the decoder. The return value counts
// compressed input accepted; decompressed output reaches the destination
// asynchronously and is fully flushed by Close.
func (w *DecompressWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("decompress writer: %w", errs.ErrEngineClosed)
	}
	if err := w.loadErr(); err != nil {
		return 0, err
	}

	n, err := w.pw.Write(p)
	w.consumed += int64(n)
	if err != nil {
		if derr := w.loadErr(); derr != nil {
			return n, derr
		}

		return n, err
	}

	return n, nil
}

// Consumed returns the number of compressed bytes accepted so far.
func (w *DecompressWriter) Consumed() int64 {
	return w.consumed
}

// Written returns the number of decompressed bytes delivered to the
// destination so far.
func (w *DecompressWriter) Written() int64 {
	return w.written.Load()
}

// Close ends the input, waits for decoding to finish and releases the
// operation. Input that stopped mid-frame surfaces here as
// errs.ErrTruncatedFrame. Closing twice is harmless.
func (w *DecompressWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.pw.Close()
	<-w.done
	closeErr := w.engine.close()
	if err := w.loadErr(); err != nil {
		return err
	}

	return closeErr
}
