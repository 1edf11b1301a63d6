// Package params resolves compression levels into low-level zstd tunables
// and validates explicit parameter sets.
//
// Resolution happens once, when an engine is constructed. It is never
// revisited mid-stream: changing parameters would require reinitializing the
// codec after bytes have been emitted, which the frame format does not allow.
package params

import (
	"fmt"

	"github.com/arloliu/zstream/errs"
)

// Bounds for each tunable, matching the zstd format limits.
const (
	// MinLevel is the lowest (fastest, weakest) supported compression level.
	MinLevel = -131072
	// MaxLevel is the highest supported compression level.
	MaxLevel = 22
	// DefaultLevel is used when no level is specified.
	DefaultLevel = 3

	WindowLogMin = 10
	WindowLogMax = 31

	ChainLogMin = 6
	ChainLogMax = 30

	HashLogMin = 6
	HashLogMax = 30

	SearchLogMin = 1
	SearchLogMax = 30

	MinMatchMin = 3
	MinMatchMax = 7

	TargetLengthMin = 0
	TargetLengthMax = 131072

	// BlockSizeMax is the largest decodable block payload in a frame.
	BlockSizeMax = 1 << 17
)

// Strategy selects the match-finding algorithm, ordered from fastest to
// strongest.
type Strategy uint8

const (
	StrategyFast Strategy = iota + 1
	StrategyDFast
	StrategyGreedy
	StrategyLazy
	StrategyLazy2
	StrategyBtLazy2
	StrategyBtOpt
	StrategyBtUltra
	StrategyBtUltra2
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyFast:
		return "fast"
	case StrategyDFast:
		return "dfast"
	case StrategyGreedy:
		return "greedy"
	case StrategyLazy:
		return "lazy"
	case StrategyLazy2:
		return "lazy2"
	case StrategyBtLazy2:
		return "btlazy2"
	case StrategyBtOpt:
		return "btopt"
	case StrategyBtUltra:
		return "btultra"
	case StrategyBtUltra2:
		return "btultra2"
	default:
		return "unknown"
	}
}

// Set is a fully resolved group of compression tunables.
//
// A Set supplied explicitly by the caller is validated field by field and
// never silently clamped: the caller has opted out of automatic tuning, so
// out-of-range values fail fast with ErrInvalidParameter.
type Set struct {
	// Level is the compression level the set was derived from. Informational
	// when the remaining fields were supplied explicitly.
	Level        int
	WindowLog    int
	ChainLog     int
	HashLog      int
	SearchLog    int
	MinMatch     int
	TargetLength int
	Strategy     Strategy
}

// Validate range-checks every field against its documented bounds.
// The first violation is reported; nothing is clamped.
func (s Set) Validate() error {
	if s.Level < MinLevel || s.Level > MaxLevel {
		return fmt.Errorf("level %d out of range [%d, %d]: %w", s.Level, MinLevel, MaxLevel, errs.ErrInvalidParameter)
	}
	checks := []struct {
		name     string
		val      int
		min, max int
	}{
		{"windowLog", s.WindowLog, WindowLogMin, WindowLogMax},
		{"chainLog", s.ChainLog, ChainLogMin, ChainLogMax},
		{"hashLog", s.HashLog, HashLogMin, HashLogMax},
		{"searchLog", s.SearchLog, SearchLogMin, SearchLogMax},
		{"minMatch", s.MinMatch, MinMatchMin, MinMatchMax},
		{"targetLength", s.TargetLength, TargetLengthMin, TargetLengthMax},
	}
	for _, c := range checks {
		if c.val < c.min || c.val > c.max {
			return fmt.Errorf("%s %d out of range [%d, %d]: %w", c.name, c.val, c.min, c.max, errs.ErrInvalidParameter)
		}
	}
	if s.Strategy < StrategyFast || s.Strategy > StrategyBtUltra2 {
		return fmt.Errorf("strategy %d out of range [%d, %d]: %w", s.Strategy, StrategyFast, StrategyBtUltra2, errs.ErrInvalidParameter)
	}

	return nil
}

// sizeClass buckets a source size the way the reference tables do: sources
// at or below 16KiB, 128KiB and 256KiB get progressively smaller tables.
func sizeClass(srcSize, dictSize int64) int {
	if srcSize <= 0 {
		return 0 // unknown size: size-agnostic defaults
	}
	total := srcSize + dictSize
	switch {
	case total <= 16*1024:
		return 3
	case total <= 128*1024:
		return 2
	case total <= 256*1024:
		return 1
	default:
		return 0
	}
}

// Resolve maps a compression level plus optional source and dictionary sizes
// to a concrete tunable Set.
//
// Pass srcSize <= 0 when the source size is unknown; a size-agnostic default
// table is used. Known small sources bias window and table sizes downward,
// trading nothing (the window never needs to exceed the input) for memory
// and speed.
//
// Returns ErrInvalidParameter when level lies outside [MinLevel, MaxLevel].
// Level 0 selects DefaultLevel.
func Resolve(level int, srcSize, dictSize int64) (Set, error) {
	if level < MinLevel || level > MaxLevel {
		return Set{}, fmt.Errorf("level %d out of range [%d, %d]: %w", level, MinLevel, MaxLevel, errs.ErrInvalidParameter)
	}
	if level == 0 {
		level = DefaultLevel
	}

	row := level
	if row < 0 {
		// Negative levels reuse the level-1 row; the backend applies the
		// acceleration factor itself.
		row = 1
	}
	s := defaultTable[row]
	s.Level = level

	if class := sizeClass(srcSize, dictSize); class > 0 {
		adjustForSize(&s, srcSize+dictSize)
	}

	return s, nil
}

// adjustForSize shrinks the window to fit a known-small source and pulls the
// dependent table logs down with it.
func adjustForSize(s *Set, total int64) {
	wlog := bitsFor(total)
	if wlog < WindowLogMin {
		wlog = WindowLogMin
	}
	if wlog < s.WindowLog {
		s.WindowLog = wlog
	}
	if s.ChainLog > s.WindowLog+1 {
		s.ChainLog = s.WindowLog + 1
	}
	if s.HashLog > s.WindowLog+1 {
		s.HashLog = s.WindowLog + 1
	}
}

// bitsFor returns the smallest n such that 1<<n >= v.
func bitsFor(v int64) int {
	n := 0
	for int64(1)<<n < v {
		n++
	}

	return n
}

// defaultTable holds the size-agnostic tunables for levels 1..22, condensed
// from the reference encoder's level tables. Index 0 is unused (level 0
// aliases DefaultLevel before lookup).
var defaultTable = [MaxLevel + 1]Set{
	1:  {WindowLog: 19, ChainLog: 13, HashLog: 14, SearchLog: 1, MinMatch: 7, TargetLength: 0, Strategy: StrategyFast},
	2:  {WindowLog: 20, ChainLog: 15, HashLog: 16, SearchLog: 1, MinMatch: 6, TargetLength: 0, Strategy: StrategyFast},
	3:  {WindowLog: 21, ChainLog: 16, HashLog: 17, SearchLog: 1, MinMatch: 5, TargetLength: 0, Strategy: StrategyDFast},
	4:  {WindowLog: 21, ChainLog: 18, HashLog: 18, SearchLog: 1, MinMatch: 5, TargetLength: 0, Strategy: StrategyDFast},
	5:  {WindowLog: 21, ChainLog: 18, HashLog: 19, SearchLog: 3, MinMatch: 5, TargetLength: 2, Strategy: StrategyGreedy},
	6:  {WindowLog: 21, ChainLog: 18, HashLog: 19, SearchLog: 3, MinMatch: 5, TargetLength: 4, Strategy: StrategyLazy},
	7:  {WindowLog: 21, ChainLog: 19, HashLog: 20, SearchLog: 4, MinMatch: 5, TargetLength: 8, Strategy: StrategyLazy},
	8:  {WindowLog: 21, ChainLog: 19, HashLog: 20, SearchLog: 4, MinMatch: 5, TargetLength: 16, Strategy: StrategyLazy2},
	9:  {WindowLog: 22, ChainLog: 20, HashLog: 21, SearchLog: 4, MinMatch: 5, TargetLength: 16, Strategy: StrategyLazy2},
	10: {WindowLog: 22, ChainLog: 21, HashLog: 22, SearchLog: 5, MinMatch: 5, TargetLength: 16, Strategy: StrategyLazy2},
	11: {WindowLog: 22, ChainLog: 21, HashLog: 22, SearchLog: 6, MinMatch: 5, TargetLength: 16, Strategy: StrategyLazy2},
	12: {WindowLog: 22, ChainLog: 22, HashLog: 23, SearchLog: 6, MinMatch: 5, TargetLength: 32, Strategy: StrategyLazy2},
	13: {WindowLog: 22, ChainLog: 22, HashLog: 22, SearchLog: 4, MinMatch: 5, TargetLength: 32, Strategy: StrategyBtLazy2},
	14: {WindowLog: 22, ChainLog: 22, HashLog: 23, SearchLog: 5, MinMatch: 5, TargetLength: 32, Strategy: StrategyBtLazy2},
	15: {WindowLog: 22, ChainLog: 23, HashLog: 23, SearchLog: 6, MinMatch: 5, TargetLength: 32, Strategy: StrategyBtLazy2},
	16: {WindowLog: 22, ChainLog: 22, HashLog: 22, SearchLog: 5, MinMatch: 5, TargetLength: 48, Strategy: StrategyBtOpt},
	17: {WindowLog: 23, ChainLog: 23, HashLog: 22, SearchLog: 5, MinMatch: 4, TargetLength: 64, Strategy: StrategyBtOpt},
	18: {WindowLog: 23, ChainLog: 23, HashLog: 22, SearchLog: 6, MinMatch: 3, TargetLength: 64, Strategy: StrategyBtUltra},
	19: {WindowLog: 23, ChainLog: 24, HashLog: 22, SearchLog: 7, MinMatch: 3, TargetLength: 256, Strategy: StrategyBtUltra2},
	20: {WindowLog: 25, ChainLog: 25, HashLog: 23, SearchLog: 7, MinMatch: 3, TargetLength: 256, Strategy: StrategyBtUltra2},
	21: {WindowLog: 26, ChainLog: 26, HashLog: 24, SearchLog: 7, MinMatch: 3, TargetLength: 512, Strategy: StrategyBtUltra2},
	22: {WindowLog: 27, ChainLog: 27, HashLog: 25, SearchLog: 9, MinMatch: 3, TargetLength: 999, Strategy: StrategyBtUltra2},
}
