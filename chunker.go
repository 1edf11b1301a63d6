package zstream

import (
	"fmt"

	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/internal/pool"
)

// Chunker compresses input and re-packages the compressed stream into
// chunks of a uniform size, sized for fixed-record sinks such as object
// stores or fixed-length message payloads. Every returned chunk is exactly
// the configured size except the last one from Finish. Not safe for
// concurrent use.
type Chunker struct {
	engine *compressEngine
	size   int
	acc    *pool.ByteBuffer

	finished bool
	closed   bool
}

func (c *Chunker) guard() error {
	if c.closed {
		return fmt.Errorf("chunker: %w", errs.ErrEngineClosed)
	}
	if c.finished {
		return fmt.Errorf("chunker already finished: %w", errs.ErrEngineClosed)
	}

	return nil
}

// emit carves full chunks out of the accumulator. final also drains the
// remainder as a short last chunk.
func (c *Chunker) emit(final bool) [][]byte {
	var chunks [][]byte
	for c.acc.Len() >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.acc.Bytes()[:c.size])
		c.acc.Discard(c.size)
		chunks = append(chunks, chunk)
	}
	if final && c.acc.Len() > 0 {
		chunk := make([]byte, c.acc.Len())
		copy(chunk, c.acc.Bytes())
		c.acc.Reset()
		chunks = append(chunks, chunk)
	}

	return chunks
}

// Compress feeds p to the codec and returns the full chunks completed by it,
// possibly none: compressed bytes short of a full chunk stay buffered for
// the next call.
func (c *Chunker) Compress(p []byte) ([][]byte, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	out, err := c.engine.feed(p)
	if err != nil {
		return nil, err
	}
	c.acc.MustWrite(out)

	return c.emit(false), nil
}

// Flush ends the current codec block and returns the full chunks that
// completes. The remainder stays buffered; the frame remains open.
func (c *Chunker) Flush() ([][]byte, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	out, err := c.engine.flush(FlushBlock)
	if err != nil {
		return nil, err
	}
	c.acc.MustWrite(out)

	return c.emit(false), nil
}

// Finish ends the frame and returns all remaining chunks; the final chunk
// may be shorter than the configured size. No further input is accepted.
func (c *Chunker) Finish() ([][]byte, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	out, err := c.engine.flush(FlushFrame)
	if err != nil {
		return nil, err
	}
	c.finished = true
	c.acc.MustWrite(out)

	return c.emit(true), nil
}

// Consumed returns the number of input bytes accepted so far.
func (c *Chunker) Consumed() int64 {
	return c.engine.consumed
}

// Close releases the operation. Buffered output of an unfinished chunker is
// discarded; closing twice is harmless.
func (c *Chunker) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.acc != nil {
		pool.Staging.Put(c.acc)
		c.acc = nil
	}

	return c.engine.close()
}
