package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dunamismax/pixeltensor/internal/tensor"
	"github.com/sbinet/npyio"
)

// decodeNPY reads a pre-shaped (H, W) or (H, W, C) array whose spatial
// dimensions must equal the requested ones exactly.
func decodeNPY(data []byte, et tensor.ElementType, shape tensor.Shape) (*tensor.Buffer, error) {
	dims, values, err := readNPY(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInputFile, err)
	}

	channels := 1
	switch len(dims) {
	case 2:
	case 3:
		channels = dims[2]
	default:
		return nil, fmt.Errorf("%w: array rank %d not supported, want 2 or 3", ErrInvalidInputFile, len(dims))
	}
	if dims[0] != shape.H || dims[1] != shape.W {
		return nil, fmt.Errorf("%w: array is %dx%d, requested %dx%d", ErrInvalidInputFile, dims[0], dims[1], shape.H, shape.W)
	}

	for i, v := range values {
		values[i] = et.Quantize(v)
	}
	if channels == 1 {
		return tensor.Wrap(et, tensor.LayoutHW, values, dims[0], dims[1])
	}
	return tensor.Wrap(et, tensor.LayoutHWC, values, dims[0], dims[1], channels)
}

// readNPY returns the shape and the C-ordered values of a .npy stream.
func readNPY(r io.Reader) ([]int, []float64, error) {
	npy, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read npy header: %w", err)
	}
	if npy.Header.Descr.Fortran {
		return nil, nil, fmt.Errorf("fortran ordered arrays are not supported")
	}

	dims := append([]int(nil), npy.Header.Descr.Shape...)
	descr := strings.TrimLeft(npy.Header.Descr.Type, "<>|=")

	var values []float64
	switch descr {
	case "b1":
		var v []bool
		if err = npy.Read(&v); err == nil {
			values = make([]float64, len(v))
			for i, b := range v {
				if b {
					values[i] = 1
				}
			}
		}
	case "u1":
		values, err = readNPYAs[uint8](npy)
	case "i1":
		values, err = readNPYAs[int8](npy)
	case "u2":
		values, err = readNPYAs[uint16](npy)
	case "i2":
		values, err = readNPYAs[int16](npy)
	case "u4":
		values, err = readNPYAs[uint32](npy)
	case "i4":
		values, err = readNPYAs[int32](npy)
	case "u8":
		values, err = readNPYAs[uint64](npy)
	case "i8":
		values, err = readNPYAs[int64](npy)
	case "f4":
		values, err = readNPYAs[float32](npy)
	case "f8":
		values, err = readNPYAs[float64](npy)
	default:
		return nil, nil, fmt.Errorf("unsupported dtype %q", npy.Header.Descr.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read npy data: %w", err)
	}

	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(values) {
		return nil, nil, fmt.Errorf("shape %v holds %d values, read %d", dims, n, len(values))
	}
	return dims, values, nil
}

type npyNumber interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

func readNPYAs[T npyNumber](npy *npyio.Reader) ([]float64, error) {
	var raw []T
	if err := npy.Read(&raw); err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}
