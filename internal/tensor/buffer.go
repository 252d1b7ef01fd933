// Package tensor holds the in-memory representation shared by every stage
// of the conversion pipeline.
//
// A Buffer keeps its values as float64 regardless of ElementType so that
// photometric arithmetic never wraps; the ElementType records what the
// values represent and how they are finally serialized.
package tensor

import (
	"fmt"
)

type Buffer struct {
	Type   ElementType
	Layout Layout
	Dims   []int
	Data   []float64
}

// New allocates a zeroed buffer. dims must have one entry per axis of layout.
func New(t ElementType, layout Layout, dims ...int) (*Buffer, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unsupported element type %s", t)
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	if len(dims) != layout.Rank() {
		return nil, fmt.Errorf("%w: layout %s needs %d dims, got %d", ErrInvalidShape, layout, layout.Rank(), len(dims))
	}

	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("%w: non-positive dimension in %v", ErrInvalidShape, dims)
		}
		n *= d
	}

	return &Buffer{
		Type:   t,
		Layout: layout,
		Dims:   append([]int(nil), dims...),
		Data:   make([]float64, n),
	}, nil
}

// Wrap builds a buffer around existing data, taking ownership of it.
func Wrap(t ElementType, layout Layout, data []float64, dims ...int) (*Buffer, error) {
	b := &Buffer{Type: t, Layout: layout, Dims: append([]int(nil), dims...), Data: data}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the invariants every stage relies on.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidShape)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("unsupported element type %s", b.Type)
	}
	if err := b.Layout.validate(); err != nil {
		return err
	}
	if len(b.Dims) != b.Layout.Rank() {
		return fmt.Errorf("%w: layout %s with dims %v", ErrInvalidShape, b.Layout, b.Dims)
	}
	n := 1
	for _, d := range b.Dims {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dimension in %v", ErrInvalidShape, b.Dims)
		}
		n *= d
	}
	if n != len(b.Data) {
		return fmt.Errorf("%w: dims %v hold %d elements, buffer has %d", ErrInvalidShape, b.Dims, n, len(b.Data))
	}
	return nil
}

func (b *Buffer) Len() int {
	return len(b.Data)
}

// Dim returns the size of axis a, or 0 when the layout lacks it.
func (b *Buffer) Dim(a Axis) int {
	i := b.Layout.Index(a)
	if i < 0 {
		return 0
	}
	return b.Dims[i]
}

func (b *Buffer) Clone() *Buffer {
	return &Buffer{
		Type:   b.Type,
		Layout: b.Layout,
		Dims:   append([]int(nil), b.Dims...),
		Data:   append([]float64(nil), b.Data...),
	}
}

// Quantize returns a copy with every value rounded to the element type.
func (b *Buffer) Quantize() *Buffer {
	out := b.Clone()
	for i, v := range out.Data {
		out.Data[i] = b.Type.Quantize(v)
	}
	return out
}

// Reshape relabels the buffer with a new layout of identical element order.
// It is only valid when the added or removed axes have size 1, which keeps
// the flat order unchanged.
func (b *Buffer) Reshape(layout Layout, dims ...int) (*Buffer, error) {
	out := &Buffer{
		Type:   b.Type,
		Layout: layout,
		Dims:   append([]int(nil), dims...),
		Data:   append([]float64(nil), b.Data...),
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Permute returns a new buffer whose axes are reordered to target. target
// must name the same axes as b.Layout. Values are moved, never changed.
func (b *Buffer) Permute(target Layout) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := target.validate(); err != nil {
		return nil, err
	}
	if !b.Layout.sameAxes(target) {
		return nil, fmt.Errorf("%w: cannot permute %s to %s", ErrInvalidLayout, b.Layout, target)
	}

	rank := target.Rank()
	srcStrides := strides(b.Dims)

	outDims := make([]int, rank)
	// step[i] is the source stride travelled when output axis i advances.
	step := make([]int, rank)
	for i := 0; i < rank; i++ {
		src := b.Layout.Index(Axis(target[i]))
		outDims[i] = b.Dims[src]
		step[i] = srcStrides[src]
	}

	out := &Buffer{
		Type:   b.Type,
		Layout: target,
		Dims:   outDims,
		Data:   make([]float64, len(b.Data)),
	}

	idx := make([]int, rank)
	offset := 0
	for o := range out.Data {
		out.Data[o] = b.Data[offset]
		for ax := rank - 1; ax >= 0; ax-- {
			idx[ax]++
			offset += step[ax]
			if idx[ax] < outDims[ax] {
				break
			}
			offset -= step[ax] * outDims[ax]
			idx[ax] = 0
		}
	}
	return out, nil
}

func strides(dims []int) []int {
	s := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= dims[i]
	}
	return s
}
