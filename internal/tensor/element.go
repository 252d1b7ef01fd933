package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// ElementType is the numeric type a tensor is stored and serialized as.
type ElementType int

const (
	Uint8 ElementType = iota + 1
	Int8
	Float16
	Float32
)

func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "u8", "uint8":
		return Uint8, nil
	case "i8", "int8":
		return Int8, nil
	case "f16", "fp16", "float16":
		return Float16, nil
	case "f32", "fp32", "float32":
		return Float32, nil
	default:
		return 0, fmt.Errorf("unsupported element type %q", s)
	}
}

func (t ElementType) String() string {
	switch t {
	case Uint8:
		return "u8"
	case Int8:
		return "i8"
	case Float16:
		return "fp16"
	case Float32:
		return "fp32"
	default:
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
}

func (t ElementType) Valid() bool {
	return t >= Uint8 && t <= Float32
}

// Size is the serialized width of one element in bytes.
func (t ElementType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Float16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

func (t ElementType) Integer() bool {
	return t == Uint8 || t == Int8
}

// Range reports the representable bounds of integer types. Float types
// return ±Inf.
func (t ElementType) Range() (lo, hi float64) {
	switch t {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// Quantize rounds v to the nearest value representable by t. Integer types
// round half to even and saturate, matching how resamplers store results.
func (t ElementType) Quantize(v float64) float64 {
	switch t {
	case Uint8, Int8:
		lo, hi := t.Range()
		return clampFloat(math.RoundToEven(v), lo, hi)
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Float32:
		return float64(float32(v))
	default:
		return v
	}
}

// Cast converts v the way the serializer stores it: integers are clamped to
// range and truncated toward zero, floats are narrowed.
func (t ElementType) Cast(v float64) float64 {
	switch t {
	case Uint8, Int8:
		if math.IsNaN(v) {
			return 0
		}
		lo, hi := t.Range()
		return math.Trunc(clampFloat(v, lo, hi))
	default:
		return t.Quantize(v)
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
