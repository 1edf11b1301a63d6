// Package dict manages compression dictionaries and their digested forms.
//
// A Dictionary holds immutable raw bytes. Backends consume a digested form
// bound to (backend, direction, level); digestion can be expensive, so each
// digested form is computed at most once per Dictionary and memoized.
// Engines sharing one Dictionary instance amortize that cost, which is the
// intended way to run many independent operations with the same dictionary.
package dict

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/arloliu/zstream/codec"
	"github.com/arloliu/zstream/errs"
	"github.com/arloliu/zstream/frame"
	"github.com/arloliu/zstream/internal/options"
)

// Type tags how dictionary content is interpreted.
type Type uint8

const (
	// TypeAuto detects the type from the content: bytes opening with the
	// dictionary magic are a structured dictionary, anything else is raw.
	TypeAuto Type = iota
	// TypeFull requires a structured dictionary (magic plus entropy
	// tables); content without the magic fails construction.
	TypeFull
	// TypeRawContent treats the content as a raw prefix dictionary with no
	// internal structure and dictionary ID 0.
	TypeRawContent
)

type config struct {
	typ Type
}

// Option configures dictionary construction.
type Option = options.Option[*config]

// WithFullDict requires the content to be a structured dictionary.
func WithFullDict() Option {
	return options.NoError(func(c *config) {
		c.typ = TypeFull
	})
}

// WithRawContent treats the content as a raw prefix dictionary.
func WithRawContent() Option {
	return options.NoError(func(c *config) {
		c.typ = TypeRawContent
	})
}

// Dictionary is an immutable compression dictionary plus a cache of digested
// forms. Safe for concurrent use.
type Dictionary struct {
	content []byte
	id      uint32
	raw     bool

	mu      sync.Mutex
	digests map[uint64]codec.DigestedDict
}

// New creates a Dictionary from content. The content is not copied; callers
// must not mutate it afterwards.
//
// Structured dictionaries shorter than 8 bytes, or forced full dictionaries
// without the magic, fail with ErrDictionary.
func New(content []byte, opts ...Option) (*Dictionary, error) {
	var cfg config
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("dictionary content must not be empty: %w", errs.ErrDictionary)
	}

	d := &Dictionary{
		content: content,
		digests: make(map[uint64]codec.DigestedDict),
	}

	hasMagic := len(content) >= 4 && binary.LittleEndian.Uint32(content[:4]) == frame.DictMagic
	switch cfg.typ {
	case TypeRawContent:
		d.raw = true
	case TypeFull:
		if !hasMagic {
			return nil, fmt.Errorf("content lacks the dictionary magic: %w", errs.ErrDictionary)
		}
		fallthrough
	default: // TypeAuto
		if hasMagic {
			if len(content) < 8 {
				return nil, fmt.Errorf("structured dictionary shorter than its header: %w", errs.ErrDictionary)
			}
			d.id = binary.LittleEndian.Uint32(content[4:8])
		} else {
			d.raw = true
		}
	}

	return d, nil
}

// ID returns the numeric dictionary ID, 0 for raw-content dictionaries.
func (d *Dictionary) ID() uint32 {
	return d.id
}

// Raw reports whether this is a raw-content (prefix) dictionary.
func (d *Dictionary) Raw() bool {
	return d.raw
}

// Content returns the raw dictionary bytes. Callers must treat them as
// read-only.
func (d *Dictionary) Content() []byte {
	return d.content
}

// Len returns the dictionary length in bytes.
func (d *Dictionary) Len() int {
	return len(d.content)
}

// digestKey identifies one digested form. Decompression digests are
// level-independent, so the level is normalized away to maximize cache hits.
func digestKey(backend string, dir codec.Direction, level int) uint64 {
	if dir == codec.DirDecompress {
		level = 0
	}
	h := xxhash.New()
	_, _ = h.WriteString(backend)

	var meta [9]byte
	meta[0] = byte(dir)
	binary.LittleEndian.PutUint64(meta[1:], uint64(int64(level)))
	_, _ = h.Write(meta[:])

	return h.Sum64()
}

// Digest returns the digested form of the dictionary for the given backend,
// direction and compression level, computing it on first use and returning
// the memoized form afterwards.
func (d *Dictionary) Digest(b codec.Backend, dir codec.Direction, level int) (codec.DigestedDict, error) {
	key := digestKey(b.Name(), dir, level)

	d.mu.Lock()
	defer d.mu.Unlock()

	if dd, ok := d.digests[key]; ok {
		return dd, nil
	}
	dd, err := b.DigestDict(d.content, d.raw, dir, level)
	if err != nil {
		return nil, err
	}
	d.digests[key] = dd

	return dd, nil
}

// Release frees every cached digested form. The Dictionary may be digested
// again afterwards; calling Release more than once is harmless.
func (d *Dictionary) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, dd := range d.digests {
		dd.Release()
		delete(d.digests, key)
	}
}
