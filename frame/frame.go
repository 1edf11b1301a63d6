// Package frame inspects zstd frame metadata without touching codec state.
//
// All functions here are pure parsers over raw bytes. They understand the
// frame header layout (magic number, frame header descriptor, window
// descriptor, dictionary ID, frame content size) and the block framing that
// follows it, but never the compressed payloads themselves.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/zstream/errs"
)

// Format selects the expected frame envelope.
type Format uint8

const (
	// FormatZstd1 is the standard frame format with a 4-byte magic prefix.
	FormatZstd1 Format = iota
	// FormatMagicless is the standard frame with the magic prefix omitted.
	FormatMagicless
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatZstd1:
		return "zstd1"
	case FormatMagicless:
		return "zstd1-magicless"
	default:
		return "unknown"
	}
}

const (
	// Magic is the little-endian magic number opening every standard frame.
	Magic uint32 = 0xFD2FB528

	// SkippableMagicBase is the lowest of the 16 skippable-frame magics.
	// A frame whose magic matches SkippableMagicBase under SkippableMagicMask
	// carries opaque user data and decompresses to nothing.
	SkippableMagicBase uint32 = 0x184D2A50
	// SkippableMagicMask masks the low nibble of a skippable-frame magic.
	SkippableMagicMask uint32 = 0xFFFFFFF0

	// MagicSize is the byte length of the magic prefix.
	MagicSize = 4

	// HeaderMinSize and HeaderMaxSize bound the header bytes beyond the
	// magic prefix: a descriptor byte plus a window descriptor at minimum,
	// descriptor plus 4-byte dictionary ID plus 8-byte content size at most.
	HeaderMinSize = 2
	HeaderMaxSize = 14

	// ParseHint is the number of bytes callers should supply for guaranteed
	// single-pass header parsing (magic plus the largest possible header).
	ParseHint = MagicSize + HeaderMaxSize

	// ContentSizeUnknown reports a frame that does not record its
	// decompressed size. Distinct from 0, which means an empty frame.
	ContentSizeUnknown int64 = -1
	// ContentSizeError reports bytes that could not be parsed as a frame.
	ContentSizeError int64 = -2

	// DictMagic is the magic number opening a structured dictionary.
	DictMagic uint32 = 0xEC30A437
)

// MagicBytes returns the standard magic prefix in wire order.
func MagicBytes() []byte {
	var b [MagicSize]byte
	binary.LittleEndian.PutUint32(b[:], Magic)

	return b[:]
}

// Header carries the metadata recorded in a frame header.
type Header struct {
	// ContentSize is the decompressed size recorded in the header,
	// ContentSizeUnknown when the frame does not record one, and 0 for an
	// empty frame. Never ContentSizeError on a successful parse.
	ContentSize int64
	// WindowSize is the decode window the frame requires, in bytes.
	WindowSize uint64
	// DictID is the dictionary the frame was compressed with, 0 when none
	// was recorded.
	DictID uint32
	// HeaderSize is the total parsed header length in bytes, including the
	// magic prefix for FormatZstd1 and excluding it for FormatMagicless.
	HeaderSize int
	// HasChecksum reports whether a 4-byte content checksum trails the
	// frame's blocks.
	HasChecksum bool
	// SingleSegment reports a frame whose whole content fits one memory
	// segment; such frames omit the window descriptor.
	SingleSegment bool
	// Skippable reports a skippable frame. ContentSize is 0, and HeaderSize
	// covers the magic plus the 4-byte length field.
	Skippable bool
}

// fcsFieldSize returns the content-size field width for a descriptor.
func fcsFieldSize(flag byte, singleSegment bool) int {
	switch flag {
	case 0:
		if singleSegment {
			return 1
		}

		return 0
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 8
	}
}

var dictIDFieldSize = [4]int{0, 1, 2, 4}

// ParseHeader parses the frame header opening data.
//
// data needs to hold only the header itself (ParseHint bytes always
// suffice); trailing bytes are ignored. Fewer bytes than the descriptor
// announces fail with ErrTruncatedHeader. Bytes that are not a frame at all
// fail with ErrCodec.
func ParseHeader(data []byte, format Format) (Header, error) {
	var h Header

	pos := 0
	if format == FormatZstd1 {
		if len(data) < MagicSize {
			return h, fmt.Errorf("need %d bytes for magic, have %d: %w", MagicSize, len(data), errs.ErrTruncatedHeader)
		}
		magic := binary.LittleEndian.Uint32(data[:MagicSize])
		if magic&SkippableMagicMask == SkippableMagicBase {
			if len(data) < 8 {
				return h, fmt.Errorf("need 8 bytes for skippable frame header, have %d: %w", len(data), errs.ErrTruncatedHeader)
			}
			h.Skippable = true
			h.HeaderSize = 8

			return h, nil
		}
		if magic != Magic {
			return h, fmt.Errorf("invalid magic number 0x%08X: %w", magic, errs.ErrCodec)
		}
		pos = MagicSize
	}

	if len(data) < pos+1 {
		return h, fmt.Errorf("missing frame header descriptor: %w", errs.ErrTruncatedHeader)
	}
	fhd := data[pos]
	pos++

	if fhd&0x08 != 0 {
		return h, fmt.Errorf("reserved frame header descriptor bit set: %w", errs.ErrCodec)
	}

	h.SingleSegment = fhd&0x20 != 0
	h.HasChecksum = fhd&0x04 != 0
	dictFlag := fhd & 0x03
	fcsFlag := fhd >> 6

	var windowDesc byte
	if !h.SingleSegment {
		if len(data) < pos+1 {
			return h, fmt.Errorf("missing window descriptor: %w", errs.ErrTruncatedHeader)
		}
		windowDesc = data[pos]
		pos++
	}

	dictLen := dictIDFieldSize[dictFlag]
	if len(data) < pos+dictLen {
		return h, fmt.Errorf("missing dictionary ID field: %w", errs.ErrTruncatedHeader)
	}
	switch dictLen {
	case 1:
		h.DictID = uint32(data[pos])
	case 2:
		h.DictID = uint32(binary.LittleEndian.Uint16(data[pos : pos+2]))
	case 4:
		h.DictID = binary.LittleEndian.Uint32(data[pos : pos+4])
	}
	pos += dictLen

	fcsLen := fcsFieldSize(fcsFlag, h.SingleSegment)
	if len(data) < pos+fcsLen {
		return h, fmt.Errorf("missing content size field: %w", errs.ErrTruncatedHeader)
	}
	switch fcsLen {
	case 0:
		h.ContentSize = ContentSizeUnknown
	case 1:
		h.ContentSize = int64(data[pos])
	case 2:
		h.ContentSize = int64(binary.LittleEndian.Uint16(data[pos:pos+2])) + 256
	case 4:
		h.ContentSize = int64(binary.LittleEndian.Uint32(data[pos : pos+4]))
	case 8:
		v := binary.LittleEndian.Uint64(data[pos : pos+8])
		if v > uint64(1)<<62 {
			return h, fmt.Errorf("content size %d out of range: %w", v, errs.ErrCodec)
		}
		h.ContentSize = int64(v)
	}
	pos += fcsLen
	h.HeaderSize = pos

	if h.SingleSegment {
		h.WindowSize = uint64(h.ContentSize)
	} else {
		exponent := windowDesc >> 3
		mantissa := windowDesc & 0x07
		base := uint64(1) << (10 + exponent)
		h.WindowSize = base + (base/8)*uint64(mantissa)
	}

	return h, nil
}

// HeaderSize returns the total header length in bytes for the frame opening
// data, without requiring the full header to be present: the magic (for
// FormatZstd1) and descriptor byte are enough.
func HeaderSize(data []byte, format Format) (int, error) {
	pos := 0
	if format == FormatZstd1 {
		if len(data) < MagicSize {
			return 0, fmt.Errorf("need %d bytes for magic, have %d: %w", MagicSize, len(data), errs.ErrTruncatedHeader)
		}
		magic := binary.LittleEndian.Uint32(data[:MagicSize])
		if magic&SkippableMagicMask == SkippableMagicBase {
			return 8, nil
		}
		if magic != Magic {
			return 0, fmt.Errorf("invalid magic number 0x%08X: %w", magic, errs.ErrCodec)
		}
		pos = MagicSize
	}

	if len(data) < pos+1 {
		return 0, fmt.Errorf("missing frame header descriptor: %w", errs.ErrTruncatedHeader)
	}
	fhd := data[pos]
	if fhd&0x08 != 0 {
		return 0, fmt.Errorf("reserved frame header descriptor bit set: %w", errs.ErrCodec)
	}
	singleSegment := fhd&0x20 != 0

	size := pos + 1 + dictIDFieldSize[fhd&0x03] + fcsFieldSize(fhd>>6, singleSegment)
	if !singleSegment {
		size++
	}

	return size, nil
}

// ContentSize returns the decompressed size recorded in the header of a
// standard magic-prefixed frame, ContentSizeUnknown when the frame does not
// record one, and ContentSizeError alongside the error when data is not a
// parseable frame.
func ContentSize(data []byte) (int64, error) {
	h, err := ParseHeader(data, FormatZstd1)
	if err != nil {
		return ContentSizeError, err
	}

	return h.ContentSize, nil
}

// Parameters is an alias returning the full parsed header for a standard
// magic-prefixed frame; it mirrors ParseHeader with the default format.
func Parameters(data []byte) (Header, error) {
	return ParseHeader(data, FormatZstd1)
}

// blockHeader decodes the 3-byte block header at data[0:3], returning the
// byte length of the block payload and whether this is the frame's last
// block. A reserved block type is corruption.
func blockHeader(data []byte) (payload int, last bool, err error) {
	v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	last = v&1 != 0
	blockType := (v >> 1) & 3
	size := int(v >> 3)

	switch blockType {
	case 0, 2: // raw, compressed
		return size, last, nil
	case 1: // RLE: a single byte regenerated size times
		return 1, last, nil
	default:
		return 0, false, fmt.Errorf("reserved block type: %w", errs.ErrCodec)
	}
}

// CompressedSize walks the block structure of the first frame in data and
// returns its exact compressed length in bytes, including header, blocks and
// checksum. Skippable frames are measured by their recorded length.
//
// The frame must be complete: input ending mid-frame fails with
// ErrTruncatedFrame.
func CompressedSize(data []byte, format Format) (int, error) {
	if format == FormatZstd1 && len(data) >= 8 {
		magic := binary.LittleEndian.Uint32(data[:MagicSize])
		if magic&SkippableMagicMask == SkippableMagicBase {
			total := 8 + int(binary.LittleEndian.Uint32(data[4:8]))
			if len(data) < total {
				return 0, fmt.Errorf("skippable frame needs %d bytes, have %d: %w", total, len(data), errs.ErrTruncatedFrame)
			}

			return total, nil
		}
	}

	h, err := ParseHeader(data, format)
	if err != nil {
		return 0, err
	}

	pos := h.HeaderSize
	for {
		if len(data) < pos+3 {
			return 0, fmt.Errorf("input ends inside block header: %w", errs.ErrTruncatedFrame)
		}
		payload, last, err := blockHeader(data[pos : pos+3])
		if err != nil {
			return 0, err
		}
		pos += 3 + payload
		if pos > len(data) {
			return 0, fmt.Errorf("input ends inside block payload: %w", errs.ErrTruncatedFrame)
		}
		if last {
			break
		}
	}

	if h.HasChecksum {
		pos += 4
		if pos > len(data) {
			return 0, fmt.Errorf("input ends inside checksum: %w", errs.ErrTruncatedFrame)
		}
	}

	return pos, nil
}
