package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/pixeltensor/internal/tensor"
)

func TestToCanonical(t *testing.T) {
	// 1x2 image with channels (1,2,3) and (4,5,6).
	src, err := tensor.Wrap(tensor.Uint8, tensor.LayoutHWC, []float64{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	out, err := ToCanonical(src)
	if err != nil {
		t.Fatalf("to canonical: %v", err)
	}
	if out.Layout != tensor.LayoutNCHW {
		t.Fatalf("expected NCHW, got %s", out.Layout)
	}
	wantDims := []int{1, 3, 1, 2}
	for i := range wantDims {
		if out.Dims[i] != wantDims[i] {
			t.Fatalf("expected dims %v, got %v", wantDims, out.Dims)
		}
	}
	want := []float64{1, 4, 2, 5, 3, 6}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], out.Data[i])
		}
	}
}

func TestOutputLayouts(t *testing.T) {
	canonical, err := tensor.New(tensor.Uint8, tensor.LayoutNCHW, 1, 3, 2, 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := range canonical.Data {
		canonical.Data[i] = float64(i)
	}

	nhwc, err := ToOutputLayout(canonical, tensor.LayoutNHWC)
	if err != nil {
		t.Fatalf("to nhwc: %v", err)
	}
	// (h=1, w=2, c=1) in NHWC equals (c=1, h=1, w=2) in NCHW.
	if got, want := nhwc.Data[(1*4+2)*3+1], canonical.Data[1*8+1*4+2]; got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}

	nwhc, err := ToOutputLayout(canonical, tensor.LayoutNWHC)
	if err != nil {
		t.Fatalf("to nwhc: %v", err)
	}
	// (w=3, h=1, c=2)
	if got, want := nwhc.Data[(3*2+1)*3+2], canonical.Data[2*8+1*4+3]; got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}

	back, err := ToOutputLayout(canonical, tensor.LayoutNCHW)
	if err != nil {
		t.Fatalf("to nchw: %v", err)
	}
	roundTrip, err := nhwc.Permute(tensor.LayoutNCHW)
	if err != nil {
		t.Fatalf("back to nchw: %v", err)
	}
	for i := range canonical.Data {
		if back.Data[i] != canonical.Data[i] || roundTrip.Data[i] != canonical.Data[i] {
			t.Fatalf("index %d differs after round trip", i)
		}
	}

	if _, err := ToOutputLayout(canonical, tensor.LayoutHWC); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
}
