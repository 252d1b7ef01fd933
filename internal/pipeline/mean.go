package pipeline

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// MeanSpec selects the baseline subtracted from each channel. The variants
// are NoMean, ScalarMean, TripletMean and FileMean.
type MeanSpec interface {
	// channelMeans returns one value per channel, or nil when nothing is
	// subtracted.
	channelMeans(channels int) ([]float64, error)
	String() string
}

type NoMean struct{}

func (NoMean) channelMeans(int) ([]float64, error) { return nil, nil }
func (NoMean) String() string                      { return "none" }

// ScalarMean is subtracted uniformly from every element.
type ScalarMean float64

func ParseScalarMean(s string) (ScalarMean, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidMean, s)
	}
	return ScalarMean(v), nil
}

func (m ScalarMean) channelMeans(channels int) ([]float64, error) {
	out := make([]float64, channels)
	for i := range out {
		out[i] = float64(m)
	}
	return out, nil
}

func (m ScalarMean) String() string {
	return strconv.FormatFloat(float64(m), 'g', -1, 64)
}

// TripletMean holds one mean per channel of a three channel tensor, in
// channel order.
type TripletMean [3]float64

// ParseTripletMean reads "R,G,B".
func ParseTripletMean(s string) (TripletMean, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return TripletMean{}, fmt.Errorf("%w: %q must hold exactly three values", ErrInvalidTuple, s)
	}

	var m TripletMean
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return TripletMean{}, fmt.Errorf("%w: %q: value %d is not a number", ErrInvalidTuple, s, i)
		}
		m[i] = v
	}
	return m, nil
}

func (m TripletMean) channelMeans(channels int) ([]float64, error) {
	if channels != len(m) {
		return nil, fmt.Errorf("%w: three means given for %d channels", ErrInvalidTuple, channels)
	}
	return m[:], nil
}

func (m TripletMean) String() string {
	return fmt.Sprintf("%g,%g,%g", m[0], m[1], m[2])
}

// FileMean loads a (C, H, W) array from a .npy file and averages each
// channel over its own spatial extent.
type FileMean struct {
	Path string
}

func (m FileMean) channelMeans(channels int) ([]float64, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNpyFile, err)
	}
	defer f.Close()

	dims, values, err := readNPY(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidNpyFile, m.Path, err)
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("%w: %s: mean array must be (C, H, W), got shape %v", ErrInvalidNpyFile, m.Path, dims)
	}
	if dims[0] != channels {
		return nil, fmt.Errorf("%w: %s: mean array has %d channels, tensor has %d", ErrInvalidNpyFile, m.Path, dims[0], channels)
	}

	plane := dims[1] * dims[2]
	if plane == 0 {
		return nil, fmt.Errorf("%w: %s: mean array has no spatial extent", ErrInvalidNpyFile, m.Path)
	}
	means := make([]float64, channels)
	for c := range means {
		var sum float64
		for _, v := range values[c*plane : (c+1)*plane] {
			sum += v
		}
		means[c] = sum / float64(plane)
	}
	return means, nil
}

func (m FileMean) String() string {
	return "file:" + m.Path
}

var (
	meanLettersRe = regexp.MustCompile(`[a-zA-Z]+`)
	meanCommaRe   = regexp.MustCompile(`,+`)
	meanDigitsRe  = regexp.MustCompile(`\d+`)
)

// ParseMean maps the single free-form mean argument of the legacy command
// line onto a MeanSpec: anything with letters is a .npy path, anything with
// a comma is an R,G,B triplet, anything with digits is a scalar. An empty
// string is NoMean.
func ParseMean(s string) (MeanSpec, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return NoMean{}, nil
	case meanLettersRe.MatchString(s):
		return FileMean{Path: s}, nil
	case meanCommaRe.MatchString(s):
		return ParseTripletMean(s)
	case meanDigitsRe.MatchString(s):
		return ParseScalarMean(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMean, s)
	}
}
