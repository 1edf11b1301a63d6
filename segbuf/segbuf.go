// Package segbuf provides zero-copy segmented buffers for batch operations.
//
// A Buffer packs N logically independent byte ranges into one allocation,
// avoiding per-item allocation overhead when compressing or decompressing
// many objects at once. Segment views are sub-slices of the shared backing
// array: they keep the allocation alive for as long as any view exists, so
// the garbage collector provides the shared-ownership lifetime directly.
package segbuf

import (
	"fmt"

	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/internal/pool"
)

// extent is one (offset, length) pair into the shared allocation.
type extent struct {
	off int
	n   int
}

// Buffer is one allocation holding an ordered sequence of segments.
// Segments are packed contiguously in append order.
type Buffer struct {
	data    []byte
	extents []extent
}

// Segment is an addressable byte range within a Buffer. Data aliases the
// Buffer's allocation.
type Segment struct {
	// Offset is the segment's byte offset within the Buffer.
	Offset int
	// Data is the segment's content, aliasing the shared allocation.
	Data []byte
}

// New wraps existing data with an explicit segment table. Every extent must
// lie within data; overlap is permitted.
func New(data []byte, segments []Segment) (*Buffer, error) {
	extents := make([]extent, len(segments))
	for i, s := range segments {
		if s.Offset < 0 || len(s.Data) < 0 || s.Offset+len(s.Data) > len(data) {
			return nil, fmt.Errorf("segment %d (offset %d, length %d) outside allocation of %d bytes: %w",
				i, s.Offset, len(s.Data), len(data), errs.ErrInvalidParameter)
		}
		extents[i] = extent{off: s.Offset, n: len(s.Data)}
	}

	return &Buffer{data: data, extents: extents}, nil
}

// NumSegments returns the number of segments.
func (b *Buffer) NumSegments() int {
	return len(b.extents)
}

// Size returns the total byte length across all segments.
func (b *Buffer) Size() int64 {
	var total int64
	for _, e := range b.extents {
		total += int64(e.n)
	}

	return total
}

// Bytes returns the whole backing allocation.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Segment returns segment i's content, aliasing the shared allocation.
// It panics if i is out of range, matching slice indexing semantics.
func (b *Buffer) Segment(i int) []byte {
	e := b.extents[i]

	return b.data[e.off : e.off+e.n : e.off+e.n]
}

// SegmentAt returns segment i as an addressable Segment view.
func (b *Buffer) SegmentAt(i int) Segment {
	e := b.extents[i]

	return Segment{Offset: e.off, Data: b.data[e.off : e.off+e.n : e.off+e.n]}
}

// Builder assembles a Buffer by appending or reserving segments.
// It is not safe for concurrent use; batch workers reserve their ranges
// up front and write into them independently.
type Builder struct {
	buf     pool.ByteBuffer
	extents []extent
}

// NewBuilder creates a Builder with a capacity hint for the backing
// allocation.
func NewBuilder(capacityHint int) *Builder {
	b := &Builder{}
	if capacityHint > 0 {
		b.buf.Grow(capacityHint)
	}

	return b
}

// Append copies p into the allocation as the next segment.
func (b *Builder) Append(p []byte) {
	off := b.buf.Len()
	b.buf.MustWrite(p)
	b.extents = append(b.extents, extent{off: off, n: len(p)})
}

// Reserve appends an uninitialized segment of n bytes and returns it for the
// caller to fill. The returned slice stays valid through Finish: callers
// must reserve every range before writing begins.
func (b *Builder) Reserve(n int) []byte {
	off := b.buf.Len()
	b.buf.Grow(n)
	b.buf.B = b.buf.B[:off+n]
	b.extents = append(b.extents, extent{off: off, n: n})

	return b.buf.B[off : off+n : off+n]
}

// Finish returns the assembled Buffer. The Builder must not be used
// afterwards.
func (b *Builder) Finish() *Buffer {
	return &Buffer{data: b.buf.Bytes(), extents: b.extents}
}

// FromSlices packs independent byte slices into one Buffer, copying each as
// its own segment.
func FromSlices(items ...[]byte) *Buffer {
	total := 0
	for _, it := range items {
		total += len(it)
	}
	b := NewBuilder(total)
	for _, it := range items {
		b.Append(it)
	}

	return b.Finish()
}

// Collection treats an ordered sequence of Buffers as one virtual sequence
// of segments. Indexes resolve by scanning cumulative segment counts.
type Collection struct {
	bufs []*Buffer
	cum  []int // cumulative segment counts, cum[i] = segments in bufs[:i+1]
}

// NewCollection creates a Collection over bufs. At least one Buffer is
// required.
func NewCollection(bufs ...*Buffer) (*Collection, error) {
	if len(bufs) == 0 {
		return nil, fmt.Errorf("collection requires at least one buffer: %w", errs.ErrInvalidParameter)
	}
	cum := make([]int, len(bufs))
	total := 0
	for i, b := range bufs {
		total += b.NumSegments()
		cum[i] = total
	}

	return &Collection{bufs: bufs, cum: cum}, nil
}

// NumBuffers returns the number of member Buffers.
func (c *Collection) NumBuffers() int {
	return len(c.bufs)
}

// NumSegments returns the total segment count across all member Buffers.
func (c *Collection) NumSegments() int {
	return c.cum[len(c.cum)-1]
}

// Size returns the total byte length across all member Buffers.
func (c *Collection) Size() int64 {
	var total int64
	for _, b := range c.bufs {
		total += b.Size()
	}

	return total
}

// Buffer returns member buffer i.
func (c *Collection) Buffer(i int) *Buffer {
	return c.bufs[i]
}

// Segment resolves virtual segment index i across the member Buffers.
// It panics if i is out of range, matching slice indexing semantics.
func (c *Collection) Segment(i int) []byte {
	if i < 0 || i >= c.NumSegments() {
		panic(fmt.Sprintf("segbuf: segment index %d out of range [0, %d)", i, c.NumSegments()))
	}
	prev := 0
	for bi, upto := range c.cum {
		if i < upto {
			return c.bufs[bi].Segment(i - prev)
		}
		prev = upto
	}

	// Unreachable: the range check above covers every index.
	panic("segbuf: corrupt cumulative index")
}
