package pipeline

import (
	"fmt"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/dunamismax/pixeltensor/internal/tensor"
)

// OptionsFromSpec resolves a wire-level conversion spec into pipeline
// options. Errors carry the taxonomy sentinels so callers can tell bad
// requests from environment failures.
func OptionsFromSpec(spec domain.ConvertSpec) (Options, error) {
	shape, err := tensor.ParseShape(spec.Shape)
	if err != nil {
		return Options{}, err
	}
	et, err := tensor.ParseElementType(spec.DType)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidElementType, err)
	}
	layout, err := tensor.ParseOutputLayout(spec.Layout)
	if err != nil {
		return Options{}, err
	}
	if _, err := NewResizer(spec.Resize); err != nil {
		return Options{}, err
	}

	mean, err := meanFromSpec(spec)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Shape:  shape,
		Type:   et,
		Layout: layout,
		Resize: spec.Resize,
		Photometric: Photometric{
			Scale: spec.Scale,
			Mean:  mean,
			Swap:  ChannelSwap(spec.ChannelSwap),
		},
	}
	if len(opts.Photometric.Swap) > 0 {
		if err := opts.Photometric.Swap.validate(shape.C); err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

func meanFromSpec(spec domain.ConvertSpec) (MeanSpec, error) {
	if spec.MeanSources() > 1 {
		return nil, fmt.Errorf("%w: more than one mean source set", ErrInvalidMean)
	}
	switch {
	case strings.TrimSpace(spec.MeanFile) != "":
		return FileMean{Path: strings.TrimSpace(spec.MeanFile)}, nil
	case len(spec.MeanRGB) > 0:
		if len(spec.MeanRGB) != 3 {
			return nil, fmt.Errorf("%w: need 3 values, got %d", ErrInvalidTuple, len(spec.MeanRGB))
		}
		return TripletMean{spec.MeanRGB[0], spec.MeanRGB[1], spec.MeanRGB[2]}, nil
	case spec.MeanValue != nil:
		return ScalarMean(*spec.MeanValue), nil
	default:
		return NoMean{}, nil
	}
}
