package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

// Decoder turns the bytes of one source file into a buffer in its native
// layout: HW for single channel sources, HWC otherwise. name is only used
// to choose the decode path from its extension.
type Decoder interface {
	Decode(ctx context.Context, name string, data []byte, et tensor.ElementType, shape tensor.Shape) (*tensor.Buffer, error)
}

type sourceKind int

const (
	sourceRaster sourceKind = iota + 1
	sourceArray
)

var rasterExtensions = map[string]bool{
	"png":  true,
	"jpeg": true,
	"jpg":  true,
	"bmp":  true,
	"gif":  true,
	"tif":  true,
	"tiff": true,
	"webp": true,
}

func classifySource(name string) (sourceKind, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch {
	case rasterExtensions[ext]:
		return sourceRaster, nil
	case ext == "npy":
		return sourceArray, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedImageType, name)
	}
}

// nativeToElement converts a decoded sample of the given bit depth to et.
// Wider samples headed for 8-bit integer types keep their high byte.
func nativeToElement(v float64, depth int, et tensor.ElementType) float64 {
	if et.Integer() && depth > 8 {
		v = float64(uint32(v) >> (depth - 8))
	}
	return et.Quantize(v)
}

// nativeChannelOrder maps each output channel to the decoded sample it is
// read from. Colour sources come out as B,G,R(,A) planes; grey and grey
// with alpha keep their order.
func nativeChannelOrder(channels int) []int {
	order := make([]int, channels)
	for c := range order {
		order[c] = c
	}
	if channels >= 3 {
		order[0], order[2] = 2, 0
	}
	return order
}

func nativeLayout(channels int) tensor.Layout {
	if channels == 1 {
		return tensor.LayoutHW
	}
	return tensor.LayoutHWC
}

func newNativeBuffer(et tensor.ElementType, h, w, channels int) (*tensor.Buffer, error) {
	if channels == 1 {
		return tensor.New(et, tensor.LayoutHW, h, w)
	}
	return tensor.New(et, tensor.LayoutHWC, h, w, channels)
}
