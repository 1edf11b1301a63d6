// Package errs defines the sentinel errors shared across the zstream packages.
//
// Callers match these with errors.Is; call sites wrap them with fmt.Errorf
// and %w to attach operation-specific context.
package errs

import "errors"

var (
	// ErrInvalidParameter indicates a compression level or explicit tunable
	// outside its documented range, or an inconsistent option combination.
	// It is always raised before any codec work begins.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDictionary indicates dictionary bytes that are structurally invalid
	// for the requested dictionary type.
	ErrDictionary = errors.New("invalid dictionary")

	// ErrCodec indicates a failure reported by the underlying codec backend
	// mid-operation. The wrapping error carries the backend's own message.
	ErrCodec = errors.New("codec error")

	// ErrSizeUnknown indicates a decompression request whose output size is
	// neither recorded in the frame header nor supplied by the caller.
	// The operation is never retried with a growing buffer: a small hostile
	// input can expand without bound, so the size must be known up front.
	ErrSizeUnknown = errors.New("decompressed size unknown")

	// ErrAlreadyActive indicates a second operation was started on a context
	// that already has an active engine. Independent operations must use
	// independent contexts.
	ErrAlreadyActive = errors.New("context already has an active operation")

	// ErrEngineClosed indicates a feed, flush, read or write against an
	// engine that has been closed or has entered its error state.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrTruncatedHeader indicates fewer bytes than the frame descriptor
	// requires were available while parsing a frame header.
	ErrTruncatedHeader = errors.New("truncated frame header")

	// ErrTruncatedFrame indicates the input ended before the current frame
	// was complete.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrUnsupportedSeek indicates a backwards (or otherwise unsupported)
	// seek on a streaming reader. Engines are not rewindable; only forward
	// skips are permitted.
	ErrUnsupportedSeek = errors.New("unsupported seek")

	// ErrBackendUnavailable indicates the selected codec backend is not
	// compiled into this binary (the cgo backend without cgo).
	ErrBackendUnavailable = errors.New("codec backend unavailable")
)
