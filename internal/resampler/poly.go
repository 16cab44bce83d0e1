package resampler

import (
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// polyInterpolator evaluates output samples by Lagrange interpolation over
// the nearest points, a cheaper alternative to the sinc bank for signals
// without content near Nyquist.
type polyInterpolator struct {
	points int
}

func newPolyInterpolator(interpolation string) (*polyInterpolator, error) {
	switch interpolation {
	case "Linear":
		return &polyInterpolator{points: 2}, nil
	case "", "Cubic":
		return &polyInterpolator{points: 4}, nil
	case "Quintic":
		return &polyInterpolator{points: 6}, nil
	case "Septic":
		return &polyInterpolator{points: 8}, nil
	default:
		return nil, errors.Newf("unknown polynomial interpolation %q", interpolation).
			Component("resampler").
			Category(errors.CategoryValidation).
			Build()
	}
}

func (p *polyInterpolator) halfTaps() int {
	return p.points/2 + 1
}

func (p *polyInterpolator) interpolate(data []float64, idx int, frac float64) float64 {
	// Points are centered around the interval [idx, idx+1].
	start := idx - (p.points/2 - 1)
	// t is the interpolation position relative to start.
	t := float64(idx-start) + frac
	acc := 0.0
	for i := 0; i < p.points; i++ {
		pos := start + i
		if pos < 0 || pos >= len(data) {
			continue
		}
		// Lagrange basis polynomial for node i.
		l := 1.0
		for j := 0; j < p.points; j++ {
			if j == i {
				continue
			}
			l *= (t - float64(j)) / (float64(i) - float64(j))
		}
		acc += l * data[pos]
	}
	return acc
}
