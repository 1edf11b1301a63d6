// Package pool provides reusable byte buffers for codec staging.
//
// Streaming engines receive backend output into a staging buffer before it
// is handed to the consumer; chunkers accumulate output until a full chunk
// is available. Both paths churn through buffers at a high rate, so buffers
// are pooled and oversized ones are dropped instead of being retained.
package pool

import (
	"io"
	"sync"
)

const (
	// StagingBufferDefaultSize matches the recommended streaming output size
	// of the zstd codec (one full block plus frame overhead).
	StagingBufferDefaultSize = 128 * 1024

	// StagingBufferMaxThreshold is the largest buffer the pool will retain.
	// Anything bigger is released to the garbage collector on Put.
	StagingBufferMaxThreshold = 1024 * 1024
)

// ByteBuffer is a length-tracked byte slice used as codec staging space.
type ByteBuffer struct {
	// B is the underlying byte slice.
	B []byte
}

// NewByteBuffer creates a new ByteBuffer with the specified initial capacity.
func NewByteBuffer(defaultSize int) *ByteBuffer {
	return &ByteBuffer{
		B: make([]byte, 0, defaultSize),
	}
}

// Bytes returns the underlying byte slice.
func (bb *ByteBuffer) Bytes() []byte {
	return bb.B
}

// Reset resets the buffer to be empty, retaining the allocation for reuse.
func (bb *ByteBuffer) Reset() {
	bb.B = bb.B[:0]
}

// Len returns the length of the buffer.
func (bb *ByteBuffer) Len() int {
	return len(bb.B)
}

// Cap returns the capacity of the buffer.
func (bb *ByteBuffer) Cap() int {
	return cap(bb.B)
}

// MustWrite appends data to the buffer, growing it if necessary.
func (bb *ByteBuffer) MustWrite(data []byte) {
	bb.B = append(bb.B, data...)
}

// Discard drops the first n bytes of the buffer by shifting the remainder to
// the front. It panics if n is out of range.
func (bb *ByteBuffer) Discard(n int) {
	if n < 0 || n > len(bb.B) {
		panic("Discard: invalid count")
	}
	bb.B = bb.B[:copy(bb.B, bb.B[n:])]
}

// Grow ensures the buffer can hold requiredBytes more bytes without
// reallocating. Small buffers grow by the default staging size to minimize
// reallocations; larger ones grow by 25% of current capacity.
func (bb *ByteBuffer) Grow(requiredBytes int) {
	available := cap(bb.B) - len(bb.B)
	if available >= requiredBytes {
		return
	}

	growBy := StagingBufferDefaultSize
	if cap(bb.B) > 4*StagingBufferDefaultSize {
		growBy = cap(bb.B) / 4
	}
	if growBy < requiredBytes {
		growBy = requiredBytes
	}

	newBuf := make([]byte, len(bb.B), len(bb.B)+growBy)
	copy(newBuf, bb.B)
	bb.B = newBuf
}

// Write appends the contents of data to the buffer, growing it as needed.
func (bb *ByteBuffer) Write(data []byte) (int, error) {
	bb.B = append(bb.B, data...)
	return len(data), nil
}

// WriteTo writes the contents of the buffer to w.
func (bb *ByteBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(bb.B)
	return int64(n), err
}

// ByteBufferPool is a pool of ByteBuffers backed by sync.Pool.
//
// A maximum size threshold keeps the pool from retaining overly large
// buffers that would otherwise pin memory between operations.
type ByteBufferPool struct {
	pool         sync.Pool
	maxThreshold int
}

// NewByteBufferPool creates a pool handing out buffers of defaultSize
// capacity and retaining returned buffers up to maxThreshold capacity.
func NewByteBufferPool(defaultSize int, maxThreshold int) *ByteBufferPool {
	return &ByteBufferPool{
		pool: sync.Pool{
			New: func() any {
				return NewByteBuffer(defaultSize)
			},
		},
		maxThreshold: maxThreshold,
	}
}

// Get returns an empty ByteBuffer from the pool.
func (p *ByteBufferPool) Get() *ByteBuffer {
	bb, _ := p.pool.Get().(*ByteBuffer)
	bb.Reset()

	return bb
}

// Put returns a ByteBuffer to the pool, unless it outgrew the threshold.
func (p *ByteBufferPool) Put(bb *ByteBuffer) {
	if bb == nil {
		return
	}
	if p.maxThreshold > 0 && bb.Cap() > p.maxThreshold {
		return
	}
	p.pool.Put(bb)
}

// Staging is the shared pool for engine staging and chunker accumulation.
var Staging = NewByteBufferPool(StagingBufferDefaultSize, StagingBufferMaxThreshold)
