package pipeline

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/tensor"
	"golang.org/x/image/draw"
)

const (
	ResizeArea       = "area"
	ResizeNearest    = "nearest"
	ResizeBilinear   = "bilinear"
	ResizeCatmullRom = "catmull-rom"
)

// Resizer resamples the two spatial axes of an HWC buffer to h x w.
type Resizer interface {
	Resize(src *tensor.Buffer, h, w int) (*tensor.Buffer, error)
}

func NewResizer(policy string) (Resizer, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", ResizeArea:
		return AreaResizer{}, nil
	case ResizeNearest:
		return DrawResizer{Interpolator: draw.NearestNeighbor}, nil
	case ResizeBilinear:
		return DrawResizer{Interpolator: draw.BiLinear}, nil
	case ResizeCatmullRom:
		return DrawResizer{Interpolator: draw.CatmullRom}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidResize, policy)
	}
}

// NormalizeGeometry returns a new HWC buffer of exactly shape.H x shape.W.
// Single channel HW input gains a trailing channel axis of size 1. The
// channel count must already match shape.C.
func NormalizeGeometry(src *tensor.Buffer, shape tensor.Shape, r Resizer) (*tensor.Buffer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	var hwc *tensor.Buffer
	switch src.Layout {
	case tensor.LayoutHW:
		var err error
		hwc, err = src.Reshape(tensor.LayoutHWC, src.Dims[0], src.Dims[1], 1)
		if err != nil {
			return nil, err
		}
	case tensor.LayoutHWC:
		hwc = src.Clone()
	default:
		return nil, fmt.Errorf("%w: geometry expects HW or HWC input, got %s", ErrInvalidLayout, src.Layout)
	}

	if c := hwc.Dim(tensor.AxisC); c != shape.C {
		return nil, fmt.Errorf("%w: source has %d channels, shape %s wants %d", ErrChannelMismatch, c, shape, shape.C)
	}
	if hwc.Dim(tensor.AxisH) == shape.H && hwc.Dim(tensor.AxisW) == shape.W {
		return hwc, nil
	}
	if r == nil {
		r = AreaResizer{}
	}

	out, err := r.Resize(hwc, shape.H, shape.W)
	if err != nil {
		return nil, err
	}
	return out.Quantize(), nil
}

// AreaResizer averages every source pixel by the fraction of it covered by
// each destination pixel. Downscaling is a box filter over the covered
// area; upscaling blends at most two neighbours per axis. Results are
// convex combinations of source values, so they never leave the source
// range.
type AreaResizer struct{}

type tap struct {
	src    int
	weight float64
}

func (AreaResizer) Resize(src *tensor.Buffer, h, w int) (*tensor.Buffer, error) {
	if src.Layout != tensor.LayoutHWC {
		return nil, fmt.Errorf("%w: area resize expects HWC, got %s", ErrInvalidLayout, src.Layout)
	}
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: resize target %dx%d", ErrInvalidShape, h, w)
	}
	inH, inW, c := src.Dims[0], src.Dims[1], src.Dims[2]

	// Horizontal pass: inH x w x c.
	colTaps := areaTaps(inW, w)
	tmp := make([]float64, inH*w*c)
	for y := 0; y < inH; y++ {
		row := src.Data[y*inW*c:]
		for x, taps := range colTaps {
			dst := tmp[(y*w+x)*c:]
			for _, t := range taps {
				s := row[t.src*c:]
				for ch := 0; ch < c; ch++ {
					dst[ch] += s[ch] * t.weight
				}
			}
		}
	}

	out, err := tensor.New(src.Type, tensor.LayoutHWC, h, w, c)
	if err != nil {
		return nil, err
	}
	rowTaps := areaTaps(inH, h)
	stride := w * c
	for y, taps := range rowTaps {
		dst := out.Data[y*stride : (y+1)*stride]
		for _, t := range taps {
			s := tmp[t.src*stride : (t.src+1)*stride]
			for i := range dst {
				dst[i] += s[i] * t.weight
			}
		}
	}
	return out, nil
}

// areaTaps maps each of out destination cells onto the in source cells it
// overlaps, weighted by overlap length. Weights of each cell sum to 1.
func areaTaps(in, out int) [][]tap {
	scale := float64(in) / float64(out)
	taps := make([][]tap, out)
	for o := 0; o < out; o++ {
		start := float64(o) * scale
		end := start + scale
		if o == out-1 {
			end = float64(in)
		}

		var sum float64
		for s := int(math.Floor(start)); s < in && float64(s) < end; s++ {
			lo := math.Max(start, float64(s))
			hi := math.Min(end, float64(s+1))
			if hi <= lo {
				continue
			}
			taps[o] = append(taps[o], tap{src: s, weight: hi - lo})
			sum += hi - lo
		}
		for i := range taps[o] {
			taps[o][i].weight /= sum
		}
	}
	return taps
}

// DrawResizer resamples each channel plane with a golang.org/x/image/draw
// interpolator. Planes are carried through 16-bit grey images: 8-bit
// integer samples map onto that range exactly, float planes are stretched
// between their own minimum and maximum.
type DrawResizer struct {
	Interpolator draw.Interpolator
}

func (r DrawResizer) Resize(src *tensor.Buffer, h, w int) (*tensor.Buffer, error) {
	if r.Interpolator == nil {
		return nil, fmt.Errorf("%w: draw resizer has no interpolator", ErrInvalidResize)
	}
	if src.Layout != tensor.LayoutHWC {
		return nil, fmt.Errorf("%w: draw resize expects HWC, got %s", ErrInvalidLayout, src.Layout)
	}
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: resize target %dx%d", ErrInvalidShape, h, w)
	}
	inH, inW, c := src.Dims[0], src.Dims[1], src.Dims[2]

	out, err := tensor.New(src.Type, tensor.LayoutHWC, h, w, c)
	if err != nil {
		return nil, err
	}

	plane := image.NewGray16(image.Rect(0, 0, inW, inH))
	scaled := image.NewGray16(image.Rect(0, 0, w, h))
	for ch := 0; ch < c; ch++ {
		toGrey, fromGrey := planeMapping(src, ch)
		for i := 0; i < inH*inW; i++ {
			v := toGrey(src.Data[i*c+ch])
			plane.Pix[2*i] = uint8(v >> 8)
			plane.Pix[2*i+1] = uint8(v)
		}

		r.Interpolator.Scale(scaled, scaled.Bounds(), plane, plane.Bounds(), draw.Src, nil)

		for i := 0; i < h*w; i++ {
			v := uint16(scaled.Pix[2*i])<<8 | uint16(scaled.Pix[2*i+1])
			out.Data[i*c+ch] = fromGrey(v)
		}
	}
	return out, nil
}

func planeMapping(src *tensor.Buffer, ch int) (func(float64) uint16, func(uint16) float64) {
	c := src.Dim(tensor.AxisC)
	switch src.Type {
	case tensor.Uint8, tensor.Int8:
		lo, _ := src.Type.Range()
		return func(v float64) uint16 { return uint16((v - lo) * 257) },
			func(g uint16) float64 { return float64(g)/257 + lo }
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := ch; i < len(src.Data); i += c {
		lo = math.Min(lo, src.Data[i])
		hi = math.Max(hi, src.Data[i])
	}
	span := hi - lo
	if span == 0 {
		return func(float64) uint16 { return 0 },
			func(uint16) float64 { return lo }
	}
	return func(v float64) uint16 { return uint16(math.Round((v - lo) / span * math.MaxUint16)) },
		func(g uint16) float64 { return lo + float64(g)/math.MaxUint16*span }
}
