package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dunamismax/pixeltensor/internal/tensor"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type stdlibDecoder struct{}

func (d stdlibDecoder) Decode(ctx context.Context, name string, data []byte, et tensor.ElementType, shape tensor.Shape) (*tensor.Buffer, error) {
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

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidInputFile, name, err)
	}
	return rasterToBuffer(img, et)
}

// rasterToBuffer copies samples out of the decoded image without any
// colour management: stored values are kept as-is, alpha is not
// premultiplied, and the channel count follows the source colour model.
// Colour channels are written blue first.
func rasterToBuffer(img image.Image, et tensor.ElementType) (*tensor.Buffer, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: image has invalid dimensions %dx%d", ErrInvalidInputFile, w, h)
	}

	channels, depth, sample := rasterSampler(img)
	buf, err := newNativeBuffer(et, h, w, channels)
	if err != nil {
		return nil, err
	}

	order := nativeChannelOrder(channels)
	px := make([]uint32, 4)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sample(bounds.Min.X+x, bounds.Min.Y+y, px)
			for _, c := range order {
				buf.Data[i] = nativeToElement(float64(px[c]), depth, et)
				i++
			}
		}
	}
	return buf, nil
}

type sampleFunc func(x, y int, dst []uint32)

func rasterSampler(img image.Image) (channels, depth int, sample sampleFunc) {
	switch src := img.(type) {
	case *image.Gray:
		return 1, 8, func(x, y int, dst []uint32) {
			dst[0] = uint32(src.Pix[src.PixOffset(x, y)])
		}
	case *image.Gray16:
		return 1, 16, func(x, y int, dst []uint32) {
			i := src.PixOffset(x, y)
			dst[0] = uint32(src.Pix[i])<<8 | uint32(src.Pix[i+1])
		}
	case *image.NRGBA:
		return 4, 8, func(x, y int, dst []uint32) {
			i := src.PixOffset(x, y)
			for c := 0; c < 4; c++ {
				dst[c] = uint32(src.Pix[i+c])
			}
		}
	case *image.NRGBA64:
		return 4, 16, func(x, y int, dst []uint32) {
			i := src.PixOffset(x, y)
			for c := 0; c < 4; c++ {
				dst[c] = uint32(src.Pix[i+2*c])<<8 | uint32(src.Pix[i+2*c+1])
			}
		}
	case *image.RGBA:
		if src.Opaque() {
			return 3, 8, func(x, y int, dst []uint32) {
				i := src.PixOffset(x, y)
				dst[0], dst[1], dst[2] = uint32(src.Pix[i]), uint32(src.Pix[i+1]), uint32(src.Pix[i+2])
			}
		}
		return 4, 8, func(x, y int, dst []uint32) {
			c := color.NRGBAModel.Convert(src.RGBAAt(x, y)).(color.NRGBA)
			dst[0], dst[1], dst[2], dst[3] = uint32(c.R), uint32(c.G), uint32(c.B), uint32(c.A)
		}
	case *image.RGBA64:
		if src.Opaque() {
			return 3, 16, func(x, y int, dst []uint32) {
				i := src.PixOffset(x, y)
				for c := 0; c < 3; c++ {
					dst[c] = uint32(src.Pix[i+2*c])<<8 | uint32(src.Pix[i+2*c+1])
				}
			}
		}
		return 4, 16, func(x, y int, dst []uint32) {
			c := color.NRGBA64Model.Convert(src.RGBA64At(x, y)).(color.NRGBA64)
			dst[0], dst[1], dst[2], dst[3] = uint32(c.R), uint32(c.G), uint32(c.B), uint32(c.A)
		}
	case *image.CMYK:
		return 3, 8, func(x, y int, dst []uint32) {
			c := src.CMYKAt(x, y)
			r, g, b := color.CMYKToRGB(c.C, c.M, c.Y, c.K)
			dst[0], dst[1], dst[2] = uint32(r), uint32(g), uint32(b)
		}
	case *image.YCbCr:
		return 3, 8, func(x, y int, dst []uint32) {
			yi, ci := src.YOffset(x, y), src.COffset(x, y)
			r, g, b := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
			dst[0], dst[1], dst[2] = uint32(r), uint32(g), uint32(b)
		}
	case *image.Paletted:
		channels := 3
		if !src.Opaque() {
			channels = 4
		}
		palette := make([]color.NRGBA, len(src.Palette))
		for i, c := range src.Palette {
			palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
		return channels, 8, func(x, y int, dst []uint32) {
			c := palette[src.Pix[src.PixOffset(x, y)]]
			dst[0], dst[1], dst[2], dst[3] = uint32(c.R), uint32(c.G), uint32(c.B), uint32(c.A)
		}
	}

	// Remaining models (Alpha, Gray with alpha, custom types) go through
	// the non-premultiplied 16-bit model.
	channels = 3
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		channels = 4
	}
	return channels, 16, func(x, y int, dst []uint32) {
		c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
		dst[0], dst[1], dst[2], dst[3] = uint32(c.R), uint32(c.G), uint32(c.B), uint32(c.A)
	}
}
