package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

// ChannelSwap is a permutation of channel indices. Planes are reordered by
// the argsort of the permutation, so (2,1,0) turns RGB into BGR.
type ChannelSwap []int

func ParseChannelSwap(s string) (ChannelSwap, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]()")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	swap := make(ChannelSwap, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidChannelSwap, s, err)
		}
		swap[i] = v
	}
	return swap, nil
}

func (s ChannelSwap) validate(channels int) error {
	if len(s) != channels {
		return fmt.Errorf("%w: %v has %d entries for %d channels", ErrInvalidChannelSwap, []int(s), len(s), channels)
	}
	seen := make([]bool, channels)
	for _, v := range s {
		if v < 0 || v >= channels || seen[v] {
			return fmt.Errorf("%w: %v is not a permutation of 0..%d", ErrInvalidChannelSwap, []int(s), channels-1)
		}
		seen[v] = true
	}
	return nil
}

// order returns the source channel for each destination channel.
func (s ChannelSwap) order() []int {
	idx := make([]int, len(s))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s[idx[a]] < s[idx[b]] })
	return idx
}

// Photometric adjusts values of a canonical NCHW buffer: scale first, then
// channel swap, then mean subtraction.
type Photometric struct {
	// Scale multiplies every element. 0 and 1 leave values untouched.
	Scale float64
	Mean  MeanSpec
	Swap  ChannelSwap
}

func (p Photometric) Apply(src *tensor.Buffer) (*tensor.Buffer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.Layout != tensor.LayoutNCHW {
		return nil, fmt.Errorf("%w: photometric stage expects NCHW, got %s", ErrInvalidLayout, src.Layout)
	}

	channels := src.Dim(tensor.AxisC)
	plane := src.Dim(tensor.AxisH) * src.Dim(tensor.AxisW)
	out := src.Clone()

	if p.Scale != 0 && p.Scale != 1 {
		for i := range out.Data {
			out.Data[i] *= p.Scale
		}
	}

	if len(p.Swap) > 0 {
		if err := p.Swap.validate(channels); err != nil {
			return nil, err
		}
		swapped := make([]float64, len(out.Data))
		for dst, srcCh := range p.Swap.order() {
			copy(swapped[dst*plane:(dst+1)*plane], out.Data[srcCh*plane:(srcCh+1)*plane])
		}
		out.Data = swapped
	}

	if p.Mean != nil {
		means, err := p.Mean.channelMeans(channels)
		if err != nil {
			return nil, err
		}
		for c, m := range means {
			for i := c * plane; i < (c+1)*plane; i++ {
				out.Data[i] -= m
			}
		}
	}

	return out, nil
}
