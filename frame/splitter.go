package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arloliu/zstream/errs"
)

// splitterBufSize comfortably covers the largest header plus a block header.
const splitterBufSize = 32 * 1024

type splitPhase uint8

const (
	phaseHeader splitPhase = iota // positioned at a frame boundary
	phaseBlocks                   // positioned at a block boundary inside a frame
	phaseDone                     // current frame fully emitted, not re-armed
	phaseEOF                      // source exhausted at a frame boundary
)

// Splitter is an io.Reader that passes one frame at a time through from an
// underlying source, reporting io.EOF exactly at the frame's end without
// decompressing anything. It walks the frame's block headers to locate the
// boundary, so it works for frames that do not record a content size.
//
// Skippable frames pass through silently as a prefix of the following frame:
// they decompress to nothing, so they never terminate a per-frame read.
//
// For FormatMagicless sources the standard magic prefix is injected into the
// output ahead of each frame, letting the output be decoded by codecs that
// only accept the standard envelope.
type Splitter struct {
	br       *bufio.Reader
	format   Format
	phase    splitPhase
	remain   int // pass-through bytes before the next framing decision
	last     bool
	checksum bool
	inject   []byte
	consumed int64
}

// NewSplitter wraps src, positioned at the start of a frame.
func NewSplitter(src io.Reader, format Format) *Splitter {
	return &Splitter{
		br:     bufio.NewReaderSize(src, splitterBufSize),
		format: format,
		phase:  phaseHeader,
	}
}

// Consumed returns the number of source bytes consumed so far, across all
// frames. Injected magic bytes are not counted.
func (s *Splitter) Consumed() int64 {
	return s.consumed
}

// Read emits bytes of the current frame, returning io.EOF at its boundary.
// Call NextFrame to advance to the following frame.
func (s *Splitter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if len(s.inject) > 0 {
			n := copy(p, s.inject)
			s.inject = s.inject[n:]

			return n, nil
		}
		if s.remain > 0 {
			limit := min(len(p), s.remain)
			n, err := s.br.Read(p[:limit])
			s.remain -= n
			s.consumed += int64(n)
			if n > 0 {
				return n, nil
			}
			if err == io.EOF {
				return 0, fmt.Errorf("source ended %d bytes into current frame region: %w", s.remain, errs.ErrTruncatedFrame)
			}
			if err != nil {
				return 0, err
			}

			continue
		}

		switch s.phase {
		case phaseDone, phaseEOF:
			return 0, io.EOF
		case phaseHeader:
			if err := s.openFrame(); err != nil {
				return 0, err
			}
		case phaseBlocks:
			if err := s.advanceBlock(); err != nil {
				return 0, err
			}
		}
	}
}

// NextFrame re-arms the splitter for the frame following the one just
// emitted. It reports false when the source is exhausted. Calling it before
// the current frame has been fully read is an error.
func (s *Splitter) NextFrame() (bool, error) {
	switch s.phase {
	case phaseEOF:
		return false, nil
	case phaseDone, phaseHeader:
		s.phase = phaseHeader
	default:
		return false, fmt.Errorf("current frame not fully read: %w", errs.ErrInvalidParameter)
	}

	if _, err := s.br.Peek(1); err != nil {
		if err == io.EOF {
			s.phase = phaseEOF

			return false, nil
		}

		return false, err
	}

	return true, nil
}

// openFrame parses the header of the frame at the current position and
// schedules its bytes for pass-through.
func (s *Splitter) openFrame() error {
	if _, err := s.br.Peek(1); err != nil {
		if err == io.EOF {
			// Clean end of source at a frame boundary.
			s.phase = phaseEOF

			return nil
		}

		return err
	}

	if s.format == FormatZstd1 {
		buf, _ := s.br.Peek(8)
		if len(buf) >= MagicSize {
			magic := binary.LittleEndian.Uint32(buf[:MagicSize])
			if magic&SkippableMagicMask == SkippableMagicBase {
				if len(buf) < 8 {
					return fmt.Errorf("source ends inside skippable frame header: %w", errs.ErrTruncatedFrame)
				}
				// Pass the whole skippable frame through and stay at
				// phaseHeader: the next real frame follows it.
				s.remain = 8 + int(binary.LittleEndian.Uint32(buf[4:8]))

				return nil
			}
		}
	}

	peek, err := s.br.Peek(ParseHint)
	if err != nil && err != io.EOF {
		return err
	}
	h, err := ParseHeader(peek, s.format)
	if err != nil {
		return err
	}

	if s.format == FormatMagicless {
		s.inject = MagicBytes()
	}
	s.remain = h.HeaderSize
	s.checksum = h.HasChecksum
	s.last = false
	s.phase = phaseBlocks

	return nil
}

// advanceBlock schedules the next frame region (block, checksum) for
// pass-through, or marks the frame done.
func (s *Splitter) advanceBlock() error {
	if s.last {
		if s.checksum {
			s.checksum = false
			s.remain = 4

			return nil
		}
		s.phase = phaseDone

		return nil
	}

	buf, err := s.br.Peek(3)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("source ends inside block header: %w", errs.ErrTruncatedFrame)
		}

		return err
	}
	payload, last, err := blockHeader(buf)
	if err != nil {
		return err
	}
	s.remain = 3 + payload
	s.last = last

	return nil
}
