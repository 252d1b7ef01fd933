package pipeline

import (
	"fmt"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

// ToCanonical moves the channel axis of an HWC buffer in front of the
// spatial axes and adds a leading batch axis of size 1, giving NCHW.
func ToCanonical(src *tensor.Buffer) (*tensor.Buffer, error) {
	if src.Layout != tensor.LayoutHWC {
		return nil, fmt.Errorf("%w: canonical transform expects HWC, got %s", ErrInvalidLayout, src.Layout)
	}

	chw, err := src.Permute("CHW")
	if err != nil {
		return nil, err
	}
	return chw.Reshape(tensor.LayoutNCHW, 1, chw.Dims[0], chw.Dims[1], chw.Dims[2])
}

// ToOutputLayout permutes a canonical NCHW buffer into the terminal layout
// the consumer reads. NCHW itself is returned as an owned copy.
func ToOutputLayout(src *tensor.Buffer, layout tensor.Layout) (*tensor.Buffer, error) {
	if src.Layout != tensor.LayoutNCHW {
		return nil, fmt.Errorf("%w: output layout expects NCHW input, got %s", ErrInvalidLayout, src.Layout)
	}

	switch layout {
	case tensor.LayoutNCHW:
		return src.Clone(), nil
	case tensor.LayoutNHWC, tensor.LayoutNWHC:
		return src.Permute(layout)
	default:
		return nil, fmt.Errorf("%w: %q is not an output layout", ErrInvalidLayout, layout)
	}
}
