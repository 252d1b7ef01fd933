package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

func TestStdlibDecoder_RGBImage(t *testing.T) {
	src := buildTestPNG(t, 5, 4, func(x, y int) color.Color {
		return color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255}
	})

	buf, err := stdlibDecoder{}.Decode(context.Background(), "input.PNG", src, tensor.Uint8, tensor.Shape{N: 1, C: 3, H: 4, W: 5})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Layout != tensor.LayoutHWC {
		t.Fatalf("expected HWC layout, got %s", buf.Layout)
	}
	if buf.Dims[0] != 4 || buf.Dims[1] != 5 || buf.Dims[2] != 3 {
		t.Fatalf("unexpected dims %v", buf.Dims)
	}

	// pixel (x=3, y=2), blue first
	i := (2*5 + 3) * 3
	if buf.Data[i] != 200 || buf.Data[i+1] != 2 || buf.Data[i+2] != 3 {
		t.Fatalf("unexpected pixel %v", buf.Data[i:i+3])
	}
}

func TestStdlibDecoder_GreyImageHasNoChannelAxis(t *testing.T) {
	src := buildGreyPNG(t, 3, 3, func(x, y int) uint8 { return uint8(10*y + x) })

	buf, err := stdlibDecoder{}.Decode(context.Background(), "grey.png", src, tensor.Float32, tensor.Shape{N: 1, C: 1, H: 3, W: 3})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Layout != tensor.LayoutHW {
		t.Fatalf("expected HW layout, got %s", buf.Layout)
	}
	if buf.Data[7] != 21 {
		t.Fatalf("expected 21 at (2,1), got %v", buf.Data[7])
	}
}

func TestStdlibDecoder_UnsupportedExtension(t *testing.T) {
	_, err := stdlibDecoder{}.Decode(context.Background(), "model.mat", []byte("x"), tensor.Uint8, tensor.Shape{N: 1, C: 3, H: 2, W: 2})
	if !errors.Is(err, ErrUnsupportedImageType) {
		t.Fatalf("expected ErrUnsupportedImageType, got %v", err)
	}
}

func TestStdlibDecoder_CorruptImage(t *testing.T) {
	_, err := stdlibDecoder{}.Decode(context.Background(), "broken.jpg", []byte("not a jpeg"), tensor.Uint8, tensor.Shape{N: 1, C: 3, H: 2, W: 2})
	if !errors.Is(err, ErrInvalidInputFile) {
		t.Fatalf("expected ErrInvalidInputFile, got %v", err)
	}
}

func TestDecodeNPY(t *testing.T) {
	shape := tensor.Shape{N: 1, C: 2, H: 2, W: 3}

	hwc := encodeNPY(t, []int{2, 3, 2}, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	buf, err := stdlibDecoder{}.Decode(context.Background(), "input.npy", hwc, tensor.Float32, shape)
	if err != nil {
		t.Fatalf("decode 3d array: %v", err)
	}
	if buf.Layout != tensor.LayoutHWC || buf.Dim(tensor.AxisC) != 2 {
		t.Fatalf("unexpected layout %s dims %v", buf.Layout, buf.Dims)
	}
	if buf.Data[11] != 11 {
		t.Fatalf("expected last value 11, got %v", buf.Data[11])
	}

	hw := encodeNPY(t, []int{2, 3}, []float64{-3, 0, 1.6, 255, 256, 7})
	buf, err = stdlibDecoder{}.Decode(context.Background(), "input.npy", hw, tensor.Uint8, shape)
	if err != nil {
		t.Fatalf("decode 2d array: %v", err)
	}
	want := []float64{0, 0, 2, 255, 255, 7}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], buf.Data[i])
		}
	}
}

func TestDecodeNPY_Uint8Array(t *testing.T) {
	shape := tensor.Shape{N: 1, C: 3, H: 1, W: 2}
	raw := encodeNPYBytes(t, []int{1, 2, 3}, []byte{0, 128, 255, 7, 8, 9})

	buf, err := stdlibDecoder{}.Decode(context.Background(), "frame.npy", raw, tensor.Uint8, shape)
	if err != nil {
		t.Fatalf("decode u1 array: %v", err)
	}
	if buf.Layout != tensor.LayoutHWC {
		t.Fatalf("expected HWC layout, got %s", buf.Layout)
	}
	// arrays keep their stored channel order
	want := []float64{0, 128, 255, 7, 8, 9}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], buf.Data[i])
		}
	}
}

func TestStdlibDecoder_TranslucentAndCMYK(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 1, 1))
	rgba.SetRGBA(0, 0, color.RGBA{R: 50, G: 25, B: 0, A: 128})
	buf, err := rasterToBuffer(rgba, tensor.Float32)
	if err != nil {
		t.Fatalf("translucent rgba: %v", err)
	}
	// un-premultiplied 8-bit samples, blue first, alpha last
	if buf.Dim(tensor.AxisC) != 4 || buf.Data[0] != 0 || buf.Data[1] != 49 || buf.Data[2] != 99 || buf.Data[3] != 128 {
		t.Fatalf("unexpected translucent pixel %v", buf.Data)
	}

	cmyk := image.NewCMYK(image.Rect(0, 0, 1, 1))
	cmyk.SetCMYK(0, 0, color.CMYK{C: 0, M: 255, Y: 255, K: 0})
	buf, err = rasterToBuffer(cmyk, tensor.Float32)
	if err != nil {
		t.Fatalf("cmyk: %v", err)
	}
	if buf.Dim(tensor.AxisC) != 3 || buf.Data[0] != 0 || buf.Data[1] != 0 || buf.Data[2] != 255 {
		t.Fatalf("expected 8-bit red as B,G,R, got %v", buf.Data)
	}
}

func TestDecodeNPY_RejectsMismatchedShape(t *testing.T) {
	shape := tensor.Shape{N: 1, C: 1, H: 4, W: 4}

	cases := map[string][]byte{
		"2d mismatch": encodeNPY(t, []int{4, 5}, make([]float64, 20)),
		"3d mismatch": encodeNPY(t, []int{3, 4, 1}, make([]float64, 12)),
		"rank 1":      encodeNPY(t, []int{16}, make([]float64, 16)),
		"rank 4":      encodeNPY(t, []int{1, 4, 4, 1}, make([]float64, 16)),
		"garbage":     []byte("definitely not numpy"),
	}
	for name, data := range cases {
		if _, err := decodeNPY(data, tensor.Uint8, shape); !errors.Is(err, ErrInvalidInputFile) {
			t.Fatalf("%s: expected ErrInvalidInputFile, got %v", name, err)
		}
	}
}
