package zstream

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/frame"
	"github.com/arloliu/zstream/segbuf"
)

// batchInlineThreshold is the segment count below which batch operations
// run on the calling goroutine; spinning up workers costs more than it
// saves on tiny batches.
const batchInlineThreshold = 8

// runBatch executes fn(i) for every i in [0, n), in parallel when the batch
// is large enough, and returns the first error in segment order.
func runBatch(n, workers int, fn func(i int) error) error {
	failures := make([]error, n)

	if n <= batchInlineThreshold || workers <= 1 {
		for i := 0; i < n; i++ {
			failures[i] = fn(i)
		}
	} else {
		if workers > n {
			workers = n
		}
		var next atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					i := int(next.Add(1)) - 1
					if i >= n {
						return
					}
					failures[i] = fn(i)
				}
			}()
		}
		wg.Wait()
	}

	for i, err := range failures {
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}

	return nil
}

// CompressMany compresses every segment of src independently, each into its
// own frame, and packs the results into one segmented buffer in segment
// order. Large batches are spread across worker goroutines; output order is
// deterministic regardless.
func (c *Compressor) CompressMany(src *segbuf.Collection) (*segbuf.Buffer, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("compressor: %w", errs.ErrAlreadyActive)
	}
	defer c.active.Store(false)

	n := src.NumSegments()
	results := make([][]byte, n)
	err := runBatch(n, c.concurrency*runtime.GOMAXPROCS(0), func(i int) error {
		seg := src.Segment(i)
		out, err := c.compressOne(make([]byte, 0, c.CompressBound(len(seg))), seg)
		if err != nil {
			return err
		}
		results[i] = out

		return nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	b := segbuf.NewBuilder(total)
	for _, r := range results {
		b.Append(r)
	}

	return b.Finish(), nil
}

// DecompressMany decompresses every segment of src independently into one
// segmented buffer in segment order. Every segment must be a complete frame
// recording its content size: the sizes are validated up front and the
// whole batch fails with errs.ErrSizeUnknown if any segment omits one, so
// the output allocation is exact and made once.
func (d *Decompressor) DecompressMany(src *segbuf.Collection) (*segbuf.Buffer, error) {
	if !d.active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("decompressor: %w", errs.ErrAlreadyActive)
	}
	defer d.active.Store(false)

	n := src.NumSegments()
	sizes := make([]int64, n)
	for i := 0; i < n; i++ {
		h, err := frame.ParseHeader(src.Segment(i), d.format)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if !h.Skippable && h.ContentSize == frame.ContentSizeUnknown {
			return nil, fmt.Errorf("segment %d does not record its content size: %w", i, errs.ErrSizeUnknown)
		}
		if !h.Skippable {
			sizes[i] = h.ContentSize
		}
	}

	var total int64
	for _, s := range sizes {
		total += s
	}
	b := segbuf.NewBuilder(int(total))
	ranges := make([][]byte, n)
	for i := 0; i < n; i++ {
		ranges[i] = b.Reserve(int(sizes[i]))
	}

	err := runBatch(n, d.concurrency*runtime.GOMAXPROCS(0), func(i int) error {
		return d.decompressInto(ranges[i], src.Segment(i))
	})
	if err != nil {
		return nil, err
	}

	return b.Finish(), nil
}

// decompressInto decodes one frame into an exactly-sized pre-reserved range.
// The backend appends into the range's spare capacity; a decode that would
// not fit in place is a size mismatch.
func (d *Decompressor) decompressInto(dst, src []byte) error {
	out, err := d.decompressOne(dst[:0], src)
	if err != nil {
		return err
	}
	if len(out) != len(dst) || (len(dst) > 0 && &out[0] != &dst[0]) {
		return fmt.Errorf("frame decoded to %d bytes, expected %d: %w", len(out), len(dst), errs.ErrCodec)
	}

	return nil
}
