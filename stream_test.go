package zstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/frame"
)

func decompressAll(t *testing.T, comp []byte) []byte {
	t.Helper()

	d, err := NewDecompressor()
	require.NoError(t, err)
	var out bytes.Buffer
	_, _, err = d.CopyStream(&out, bytes.NewReader(comp))
	require.NoError(t, err)

	return out.Bytes()
}

func TestWriterRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("writer payload chunk "), 3000)

	c, err := NewCompressor()
	require.NoError(t, err)
	var sink bytes.Buffer
	w, err := c.NewWriter(&sink, -1)
	require.NoError(t, err)

	// Uneven write sizes exercise internal buffering.
	for i := 0; i < len(src); {
		n := 1 + (i*7)%4096
		if i+n > len(src) {
			n = len(src) - i
		}
		wrote, err := w.Write(src[i : i+n])
		require.NoError(t, err)
		require.Equal(t, n, wrote)
		i += n
	}
	require.NoError(t, w.Close())
	require.Equal(t, int64(len(src)), w.Consumed())
	require.Equal(t, int64(sink.Len()), w.Produced())

	require.Equal(t, src, decompressAll(t, sink.Bytes()))
}

func TestWriterEmptyCloseProducesValidFrame(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	var sink bytes.Buffer
	w, err := c.NewWriter(&sink, -1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NotZero(t, sink.Len())

	require.Empty(t, decompressAll(t, sink.Bytes()))
}

func TestWriterFlushFrameStartsNewFrame(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	var sink bytes.Buffer
	w, err := c.NewWriter(&sink, -1)
	require.NoError(t, err)

	_, err = w.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, w.Flush(FlushFrame))
	firstLen := sink.Len()

	// A redundant frame flush emits nothing.
	require.NoError(t, w.Flush(FlushFrame))
	require.Equal(t, firstLen, sink.Len())

	_, err = w.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Two independently decodable frames.
	blob := sink.Bytes()
	n, err := frame.CompressedSize(blob, frame.FormatZstd1)
	require.NoError(t, err)
	require.Less(t, n, len(blob))

	// Streaming frames record no content size, so decode them capped.
	d, err := NewDecompressor()
	require.NoError(t, err)
	out, err := d.DecompressCapped(nil, blob[:n], 64)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), out)

	out, err = d.DecompressCapped(nil, blob[n:], 64)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), out)
}

func TestWriterFlushBlockMakesProgress(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	var sink bytes.Buffer
	w, err := c.NewWriter(&sink, -1)
	require.NoError(t, err)

	_, err = w.Write([]byte("buffered"))
	require.NoError(t, err)
	require.NoError(t, w.Flush(FlushBlock))
	afterFlush := sink.Len()
	require.NotZero(t, afterFlush)

	require.NoError(t, w.Close())
	require.Equal(t, []byte("buffered"), decompressAll(t, sink.Bytes()))
}

func TestWriterPledgeMismatch(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	var sink bytes.Buffer
	w, err := c.NewWriter(&sink, 100)
	require.NoError(t, err)

	_, err = w.Write([]byte("only five bytes?"))
	require.NoError(t, err)
	require.Error(t, w.Close())

	// The slot is released even after a failed close.
	_, err = c.Compress(nil, []byte("next"))
	require.NoError(t, err)
}

func TestWriterRecordsPledgedSize(t *testing.T) {
	src := bytes.Repeat([]byte("pledged payload "), 32)
	c, err := NewCompressor()
	require.NoError(t, err)
	var sink bytes.Buffer
	w, err := c.NewWriter(&sink, int64(len(src)))
	require.NoError(t, err)

	_, err = w.Write(src)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	size, err := frame.ContentSize(sink.Bytes())
	require.NoError(t, err)
	require.Equal(t, int64(len(src)), size)

	// A recorded size makes the strict one-shot path usable on the result.
	d, err := NewDecompressor()
	require.NoError(t, err)
	out, err := d.Decompress(nil, sink.Bytes())
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestWriterUseAfterClose(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	w, err := c.NewWriter(io.Discard, -1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, errs.ErrEngineClosed)
	require.ErrorIs(t, w.Flush(FlushBlock), errs.ErrEngineClosed)
}

func TestCompressReaderRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("pull-style compression "), 5000)

	c, err := NewCompressor()
	require.NoError(t, err)
	r, err := c.NewReader(bytes.NewReader(src), int64(len(src)))
	require.NoError(t, err)

	comp, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, int64(len(src)), r.Consumed())
	require.Equal(t, int64(len(comp)), r.Produced())
	require.NoError(t, r.Close())

	require.Equal(t, src, decompressAll(t, comp))
}

func TestCompressReaderEmptySource(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	r, err := c.NewReader(bytes.NewReader(nil), -1)
	require.NoError(t, err)
	defer r.Close()

	comp, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NotEmpty(t, comp)
	require.Empty(t, decompressAll(t, comp))
}

func TestCompressReaderPledgeMismatch(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	r, err := c.NewReader(bytes.NewReader([]byte("short")), 100)
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
}

func twoFrames(t *testing.T) (comp []byte, first, second []byte) {
	t.Helper()

	first = []byte("contents of the first frame")
	second = []byte("and then the second frame")
	c, err := NewCompressor()
	require.NoError(t, err)
	f1, err := c.Compress(nil, first)
	require.NoError(t, err)
	f2, err := c.Compress(nil, second)
	require.NoError(t, err)

	return append(append([]byte{}, f1...), f2...), first, second
}

func TestReaderStopsAtFrameBoundary(t *testing.T) {
	comp, first, second := twoFrames(t)

	d, err := NewDecompressor()
	require.NoError(t, err)
	r, err := d.NewReader(bytes.NewReader(comp))
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, first, got)
	require.Equal(t, int64(len(first)), r.Offset())

	ok, err := r.NextFrame()
	require.NoError(t, err)
	require.True(t, ok)

	got, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, second, got)

	ok, err = r.NextFrame()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReaderAcrossFrames(t *testing.T) {
	comp, first, second := twoFrames(t)

	d, err := NewDecompressor()
	require.NoError(t, err)
	r, err := d.NewReader(bytes.NewReader(comp), WithReadAcrossFrames())
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, first...), second...), got)

	_, err = r.NextFrame()
	require.ErrorIs(t, err, errs.ErrInvalidParameter)
}

func TestReaderSkipAndSeek(t *testing.T) {
	src := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	comp, err := Compress(nil, src)
	require.NoError(t, err)

	d, err := NewDecompressor()
	require.NoError(t, err)
	r, err := d.NewReader(bytes.NewReader(comp))
	require.NoError(t, err)
	defer r.Close()

	skipped, err := r.Skip(10)
	require.NoError(t, err)
	require.Equal(t, int64(10), skipped)
	require.Equal(t, int64(10), r.Offset())

	pos, err := r.Seek(5, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(15), pos)

	pos, err = r.Seek(20, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(20), pos)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, src[20:], rest)

	// Only forward motion is possible.
	_, err = r.Seek(0, io.SeekStart)
	require.ErrorIs(t, err, errs.ErrUnsupportedSeek)
	_, err = r.Seek(-1, io.SeekCurrent)
	require.ErrorIs(t, err, errs.ErrUnsupportedSeek)
	_, err = r.Seek(0, io.SeekEnd)
	require.ErrorIs(t, err, errs.ErrUnsupportedSeek)
	_, err = r.Skip(-1)
	require.ErrorIs(t, err, errs.ErrUnsupportedSeek)
}

func TestReaderSkipPastEnd(t *testing.T) {
	src := []byte("short")
	comp, err := Compress(nil, src)
	require.NoError(t, err)

	d, err := NewDecompressor()
	require.NoError(t, err)
	r, err := d.NewReader(bytes.NewReader(comp))
	require.NoError(t, err)
	defer r.Close()

	skipped, err := r.Skip(100)
	require.NoError(t, err)
	require.Equal(t, int64(len(src)), skipped)
}

func TestReaderMagicless(t *testing.T) {
	c, err := NewCompressor(WithEncoderFormat(frame.FormatMagicless))
	require.NoError(t, err)
	src := bytes.Repeat([]byte("magicless streaming "), 500)
	comp, err := c.Compress(nil, src)
	require.NoError(t, err)

	d, err := NewDecompressor(WithDecoderFormat(frame.FormatMagicless))
	require.NoError(t, err)
	r, err := d.NewReader(bytes.NewReader(comp), WithReadAcrossFrames())
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, src, got)
}

func TestDecompressWriterRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("push-style decompression "), 4000)
	comp, err := Compress(nil, src)
	require.NoError(t, err)

	d, err := NewDecompressor()
	require.NoError(t, err)
	var out bytes.Buffer
	w, err := d.NewWriter(&out)
	require.NoError(t, err)

	// Arbitrary fragmentation of the compressed input.
	for i := 0; i < len(comp); i += 7 {
		end := min(i+7, len(comp))
		n, err := w.Write(comp[i:end])
		require.NoError(t, err)
		require.Equal(t, end-i, n)
	}
	require.NoError(t, w.Close())
	require.Equal(t, src, out.Bytes())
	require.Equal(t, int64(len(comp)), w.Consumed())
	require.Equal(t, int64(len(src)), w.Written())
}

func TestDecompressWriterMultipleFrames(t *testing.T) {
	comp, first, second := twoFrames(t)

	d, err := NewDecompressor()
	require.NoError(t, err)
	var out bytes.Buffer
	w, err := d.NewWriter(&out)
	require.NoError(t, err)
	_, err = w.Write(comp)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, append(append([]byte{}, first...), second...), out.Bytes())
}

func TestDecompressWriterTruncatedInput(t *testing.T) {
	comp, err := Compress(nil, bytes.Repeat([]byte("truncate me "), 1000))
	require.NoError(t, err)

	d, err := NewDecompressor()
	require.NoError(t, err)
	var out bytes.Buffer
	w, err := d.NewWriter(&out)
	require.NoError(t, err)
	_, err = w.Write(comp[:len(comp)/2])
	require.NoError(t, err)
	require.Error(t, w.Close())
}

func TestDecompressWriterCorruptInput(t *testing.T) {
	d, err := NewDecompressor()
	require.NoError(t, err)
	w, err := d.NewWriter(io.Discard)
	require.NoError(t, err)

	garbage := bytes.Repeat([]byte("garbage input, not zstd "), 100)
	var werr error
	for i := 0; i < len(garbage) && werr == nil; i += 16 {
		_, werr = w.Write(garbage[i:min(i+16, len(garbage))])
	}
	cerr := w.Close()
	require.True(t, werr != nil || cerr != nil)
}

func TestChunkerUniformChunks(t *testing.T) {
	src := bytes.Repeat([]byte("chunked compression payload "), 4000)
	const chunkSize = 512

	c, err := NewCompressor()
	require.NoError(t, err)
	ch, err := c.NewChunker(chunkSize, int64(len(src)))
	require.NoError(t, err)
	defer ch.Close()

	var chunks [][]byte
	for i := 0; i < len(src); i += 10000 {
		out, err := ch.Compress(src[i:min(i+10000, len(src))])
		require.NoError(t, err)
		chunks = append(chunks, out...)
	}
	tail, err := ch.Finish()
	require.NoError(t, err)
	chunks = append(chunks, tail...)
	require.Equal(t, int64(len(src)), ch.Consumed())

	require.NotEmpty(t, chunks)
	var joined bytes.Buffer
	for i, chunk := range chunks {
		if i < len(chunks)-1 {
			require.Len(t, chunk, chunkSize, "chunk %d", i)
		} else {
			require.LessOrEqual(t, len(chunk), chunkSize, "final chunk")
			require.NotEmpty(t, chunk, "final chunk")
		}
		joined.Write(chunk)
	}

	require.Equal(t, src, decompressAll(t, joined.Bytes()))
}

func TestChunkerFlush(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	ch, err := c.NewChunker(1<<20, -1)
	require.NoError(t, err)
	defer ch.Close()

	// Everything fits one oversized chunk: nothing is emitted until Finish.
	out, err := ch.Compress([]byte("small"))
	require.NoError(t, err)
	require.Empty(t, out)
	out, err = ch.Flush()
	require.NoError(t, err)
	require.Empty(t, out)

	final, err := ch.Finish()
	require.NoError(t, err)
	require.Len(t, final, 1)
	require.Equal(t, []byte("small"), decompressAll(t, final[0]))
}

func TestChunkerFinishIsTerminal(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	ch, err := c.NewChunker(64, -1)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Finish()
	require.NoError(t, err)

	_, err = ch.Compress([]byte("late"))
	require.ErrorIs(t, err, errs.ErrEngineClosed)
	_, err = ch.Flush()
	require.ErrorIs(t, err, errs.ErrEngineClosed)
	_, err = ch.Finish()
	require.ErrorIs(t, err, errs.ErrEngineClosed)
}

func TestChunkerInvalidSize(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)
	_, err = c.NewChunker(0, -1)
	require.ErrorIs(t, err, errs.ErrInvalidParameter)
}

func TestCopyStreamRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("copy stream payload "), 10000)

	c, err := NewCompressor()
	require.NoError(t, err)
	var comp bytes.Buffer
	read, written, err := c.CopyStream(&comp, bytes.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, int64(len(src)), read)
	require.Equal(t, int64(comp.Len()), written)

	d, err := NewDecompressor()
	require.NoError(t, err)
	var out bytes.Buffer
	read, written, err = d.CopyStream(&out, bytes.NewReader(comp.Bytes()))
	require.NoError(t, err)
	require.Equal(t, int64(comp.Len()), read)
	require.Equal(t, int64(len(src)), written)
	require.Equal(t, src, out.Bytes())
}
