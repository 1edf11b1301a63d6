//go:build !cgo

package codec

import (
	"fmt"
	"io"

	"github.com/arloliu/zstream/errs"
)

// Cgo returns a placeholder for the libzstd backend in builds without cgo.
// Available reports false and every operation fails with
// errs.ErrBackendUnavailable.
func Cgo() Backend {
	return stubBackend{}
}

type stubBackend struct{}

func (stubBackend) Name() string    { return "cgo" }
func (stubBackend) Available() bool { return false }

func (stubBackend) CompressBound(srcLen int) int {
	return compressBound(srcLen)
}

func stubErr() error {
	return fmt.Errorf("cgo backend requires a cgo-enabled build: %w", errs.ErrBackendUnavailable)
}

func (stubBackend) Compress([]byte, []byte, EncoderConfig) ([]byte, error) {
	return nil, stubErr()
}

func (stubBackend) Decompress([]byte, []byte, DecoderConfig) ([]byte, error) {
	return nil, stubErr()
}

func (stubBackend) NewFrameEncoder(EncoderConfig) (FrameEncoder, error) {
	return nil, stubErr()
}

func (stubBackend) NewFrameDecoder(io.Reader, DecoderConfig) (FrameDecoder, error) {
	return nil, stubErr()
}

func (stubBackend) DigestDict([]byte, bool, Direction, int) (DigestedDict, error) {
	return nil, stubErr()
}
