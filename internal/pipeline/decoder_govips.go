//go:build govips && cgo

package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixeltensor/internal/tensor"
)

// govipsDecoder decodes rasters through libvips. Arrays still go through
// the npy reader.
type govipsDecoder struct{}

func (d govipsDecoder) Decode(ctx context.Context, name string, data []byte, et tensor.ElementType, shape tensor.Shape) (*tensor.Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	kind, err := classifySource(name)
	if err != nil {
		return nil, err
	}
	if kind == sourceArray {
		return decodeNPY(data, et, shape)
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidInputFile, name, err)
	}
	defer img.Close()

	var depth int
	switch img.BandFormat() {
	case vips.BandFormatUchar:
		depth = 8
	case vips.BandFormatUshort:
		depth = 16
	default:
		return nil, fmt.Errorf("%w: unsupported band format %v in %s", ErrInvalidInputFile, img.BandFormat(), name)
	}

	raw, err := img.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: read pixels of %s: %v", ErrInvalidInputFile, name, err)
	}

	w, h, channels := img.Width(), img.Height(), img.Bands()
	buf, err := newNativeBuffer(et, h, w, channels)
	if err != nil {
		return nil, err
	}
	if want := buf.Len() * depth / 8; len(raw) != want {
		return nil, fmt.Errorf("%w: libvips returned %d bytes, want %d", ErrInvalidInputFile, len(raw), want)
	}

	order := nativeChannelOrder(channels)
	for i := range buf.Data {
		// libvips hands back interleaved R,G,B(,A).
		j := i - i%channels + order[i%channels]
		var v uint32
		if depth == 8 {
			v = uint32(raw[j])
		} else {
			v = uint32(binary.NativeEndian.Uint16(raw[2*j:]))
		}
		buf.Data[i] = nativeToElement(float64(v), depth, et)
	}
	return buf, nil
}
