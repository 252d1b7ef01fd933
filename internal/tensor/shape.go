package tensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidShape = errors.New("invalid tensor shape")

// Shape is the requested (N, C, H, W) of a converted tensor.
type Shape struct {
	N int `json:"n"`
	C int `json:"c"`
	H int `json:"h"`
	W int `json:"w"`
}

// ParseShape reads a shape written as "N,C,H,W".
func ParseShape(s string) (Shape, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return Shape{}, fmt.Errorf("%w: %q must have four comma separated values", ErrInvalidShape, s)
	}

	var dims [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Shape{}, fmt.Errorf("%w: %q: %v", ErrInvalidShape, s, err)
		}
		dims[i] = v
	}

	shape := Shape{N: dims[0], C: dims[1], H: dims[2], W: dims[3]}
	if err := shape.Validate(); err != nil {
		return Shape{}, err
	}
	return shape, nil
}

func (s Shape) Validate() error {
	if s.N != 1 {
		return fmt.Errorf("%w: batch size must be 1, got %d", ErrInvalidShape, s.N)
	}
	if s.C <= 0 || s.H <= 0 || s.W <= 0 {
		return fmt.Errorf("%w: channel, height and width must be positive, got %s", ErrInvalidShape, s)
	}
	return nil
}

func (s Shape) Elements() int {
	return s.N * s.C * s.H * s.W
}

func (s Shape) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", s.N, s.C, s.H, s.W)
}
