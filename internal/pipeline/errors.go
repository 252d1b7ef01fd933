package pipeline

import (
	"errors"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUnsupportedImageType  = errors.New("unsupported image type")
	ErrInvalidInputFile      = errors.New("invalid input file")
	ErrInvalidNpyFile        = errors.New("invalid npy file")
	ErrInvalidTuple          = errors.New("invalid mean tuple")
	ErrInvalidMean           = errors.New("invalid mean")
	ErrIO                    = errors.New("output i/o error")

	ErrChannelMismatch    = errors.New("channel count mismatch")
	ErrInvalidChannelSwap = errors.New("invalid channel swap")
	ErrInvalidResize      = errors.New("invalid resize policy")
	ErrInvalidElementType = errors.New("invalid element type")
	ErrInvalidOutputKey   = errors.New("invalid output key")

	ErrInvalidShape  = tensor.ErrInvalidShape
	ErrInvalidLayout = tensor.ErrInvalidLayout
)

// IsInputError reports whether err comes from the request or its source
// data rather than from the environment. Such errors never succeed on retry.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrUnsupportedSourceType,
		ErrUnsupportedImageType,
		ErrInvalidInputFile,
		ErrInvalidNpyFile,
		ErrInvalidTuple,
		ErrInvalidMean,
		ErrChannelMismatch,
		ErrInvalidChannelSwap,
		ErrInvalidResize,
		ErrInvalidElementType,
		ErrInvalidOutputKey,
		ErrInvalidShape,
		ErrInvalidLayout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
