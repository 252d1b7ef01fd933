package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dunamismax/pixeltensor/internal/tensor"
	"github.com/x448/float16"
)

// Serialize flattens b in its current axis order into raw element bytes.
// There is no header; multi-byte elements are little-endian. Integer types
// are clamped to range and truncated, float types are narrowed.
func Serialize(b *tensor.Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	size := b.Type.Size()
	out := make([]byte, len(b.Data)*size)
	switch b.Type {
	case tensor.Uint8:
		for i, v := range b.Data {
			out[i] = uint8(b.Type.Cast(v))
		}
	case tensor.Int8:
		for i, v := range b.Data {
			out[i] = byte(int8(b.Type.Cast(v)))
		}
	case tensor.Float16:
		for i, v := range b.Data {
			binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(float32(v)).Bits())
		}
	case tensor.Float32:
		for i, v := range b.Data {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
		}
	default:
		return nil, fmt.Errorf("serialize: unsupported element type %s", b.Type)
	}
	return out, nil
}
