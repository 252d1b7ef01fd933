package tensor

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidLayout = errors.New("invalid tensor layout")

// Axis names one semantic dimension of a tensor.
type Axis byte

const (
	AxisN Axis = 'N'
	AxisC Axis = 'C'
	AxisH Axis = 'H'
	AxisW Axis = 'W'
)

// Layout lists the semantic axes of a buffer from outermost to innermost,
// e.g. "NCHW".
type Layout string

const (
	LayoutHW   Layout = "HW"
	LayoutHWC  Layout = "HWC"
	LayoutNCHW Layout = "NCHW"
	LayoutNHWC Layout = "NHWC"
	LayoutNWHC Layout = "NWHC"
)

// ParseOutputLayout accepts the terminal layouts a converted tensor may be
// written in.
func ParseOutputLayout(s string) (Layout, error) {
	switch Layout(strings.ToUpper(strings.TrimSpace(s))) {
	case "", LayoutNCHW:
		return LayoutNCHW, nil
	case LayoutNHWC:
		return LayoutNHWC, nil
	case LayoutNWHC:
		return LayoutNWHC, nil
	default:
		return "", fmt.Errorf("%w: %q (want nchw, nhwc or nwhc)", ErrInvalidLayout, s)
	}
}

func (l Layout) Rank() int {
	return len(l)
}

// Index returns the position of a in l, or -1.
func (l Layout) Index(a Axis) int {
	return strings.IndexByte(string(l), byte(a))
}

func (l Layout) validate() error {
	seen := map[Axis]bool{}
	for i := 0; i < len(l); i++ {
		a := Axis(l[i])
		switch a {
		case AxisN, AxisC, AxisH, AxisW:
		default:
			return fmt.Errorf("%w: unknown axis %q in %q", ErrInvalidLayout, a, l)
		}
		if seen[a] {
			return fmt.Errorf("%w: axis %q repeated in %q", ErrInvalidLayout, a, l)
		}
		seen[a] = true
	}
	return nil
}

func (l Layout) sameAxes(other Layout) bool {
	if len(l) != len(other) {
		return false
	}
	for i := 0; i < len(l); i++ {
		if other.Index(Axis(l[i])) < 0 {
			return false
		}
	}
	return true
}
