package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strings"
	"testing"
)

// encodeNPY builds a version 1.0 .npy file holding float64 values.
func encodeNPY(t testing.TB, shape []int, values []float64) []byte {
	t.Helper()

	body := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(body[8*i:], math.Float64bits(v))
	}
	return npyFile(t, "<f8", shape, body)
}

// encodeNPYBytes builds a .npy file holding uint8 values.
func encodeNPYBytes(t testing.TB, shape []int, values []byte) []byte {
	t.Helper()
	return npyFile(t, "|u1", shape, values)
}

func npyFile(t testing.TB, descr string, shape []int, body []byte) []byte {
	t.Helper()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	tuple := "(" + strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	tuple += ")"

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, tuple)
	const preamble = 10
	pad := 64 - (preamble+len(header)+1)%64
	header += strings.Repeat(" ", pad%64) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		t.Fatalf("write npy header length: %v", err)
	}
	buf.WriteString(header)
	buf.Write(body)
	return buf.Bytes()
}

func writeNPY(t testing.TB, path string, shape []int, values []float64) {
	t.Helper()
	if err := os.WriteFile(path, encodeNPY(t, shape, values), 0o644); err != nil {
		t.Fatalf("write npy fixture: %v", err)
	}
}

func buildTestPNG(t testing.TB, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildGreyPNG(t testing.TB, w, h int, fill func(x, y int) uint8) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode grey png: %v", err)
	}
	return buf.Bytes()
}

func uniformRGB(r, g, b uint8) func(x, y int) color.Color {
	return func(int, int) color.Color {
		return color.RGBA{R: r, G: g, B: b, A: 255}
	}
}
