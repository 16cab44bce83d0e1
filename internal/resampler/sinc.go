package resampler

import (
	"math"

	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// sincParameters describes a windowed sinc filter bank.
type sincParameters struct {
	sincLen            int
	oversamplingFactor int
	fCutoff            float64
	window             string
}

// sincParametersFromConfig resolves a named profile or free parameters.
// Profiles trade filter length against quality.
func sincParametersFromConfig(cfg *conf.ResamplerConfig) (sincParameters, error) {
	switch cfg.Profile {
	case "VeryFast":
		return sincParameters{sincLen: 64, oversamplingFactor: 1024, window: "Hann2"}, nil
	case "Fast":
		return sincParameters{sincLen: 128, oversamplingFactor: 1024, window: "Blackman2"}, nil
	case "", "Balanced":
		return sincParameters{sincLen: 192, oversamplingFactor: 512, window: "BlackmanHarris2"}, nil
	case "Accurate":
		return sincParameters{sincLen: 256, oversamplingFactor: 256, window: "BlackmanHarris2"}, nil
	case "Free":
		if cfg.SincLen <= 0 || cfg.OversamplingFactor <= 0 {
			return sincParameters{}, errors.Newf("free sinc profile requires sinc_len and oversampling_factor").
				Component("resampler").
				Category(errors.CategoryValidation).
				Build()
		}
		return sincParameters{
			sincLen:            cfg.SincLen,
			oversamplingFactor: cfg.OversamplingFactor,
			fCutoff:            cfg.FCutoff,
			window:             cfg.Window,
		}, nil
	default:
		return sincParameters{}, errors.Newf("unknown sinc profile %q", cfg.Profile).
			Component("resampler").
			Category(errors.CategoryValidation).
			Build()
	}
}

func windowValue(name string, x float64) float64 {
	// x runs 0..1 over the window.
	switch name {
	case "Hann":
		return 0.5 - 0.5*math.Cos(2.0*math.Pi*x)
	case "Hann2":
		v := 0.5 - 0.5*math.Cos(2.0*math.Pi*x)
		return v * v
	case "Blackman":
		return 0.42 - 0.5*math.Cos(2.0*math.Pi*x) + 0.08*math.Cos(4.0*math.Pi*x)
	case "Blackman2":
		v := 0.42 - 0.5*math.Cos(2.0*math.Pi*x) + 0.08*math.Cos(4.0*math.Pi*x)
		return v * v
	case "BlackmanHarris":
		return 0.35875 - 0.48829*math.Cos(2.0*math.Pi*x) +
			0.14128*math.Cos(4.0*math.Pi*x) - 0.01168*math.Cos(6.0*math.Pi*x)
	default: // BlackmanHarris2
		v := 0.35875 - 0.48829*math.Cos(2.0*math.Pi*x) +
			0.14128*math.Cos(4.0*math.Pi*x) - 0.01168*math.Cos(6.0*math.Pi*x)
		return v * v
	}
}

// defaultCutoff estimates a usable cutoff for a window and sinc length,
// leaving room for the transition band.
func defaultCutoff(sincLen int) float64 {
	return 1.0 - 4.0/float64(sincLen)
}

// sincInterpolator reads output samples through an oversampled windowed
// sinc filter bank. Row p of the table holds the filter for fractional
// offset p/oversampling; evaluation interpolates linearly between the two
// nearest rows.
type sincInterpolator struct {
	taps  int
	over  int
	table [][]float64
}

func newSincInterpolator(p sincParameters) *sincInterpolator {
	cutoff := p.fCutoff
	if cutoff <= 0.0 || cutoff > 1.0 {
		cutoff = defaultCutoff(p.sincLen)
	}
	taps := p.sincLen
	over := p.oversamplingFactor
	table := make([][]float64, over+1)
	half := float64(taps) / 2.0
	for row := 0; row <= over; row++ {
		frac := float64(row) / float64(over)
		coeffs := make([]float64, taps)
		sum := 0.0
		for tap := 0; tap < taps; tap++ {
			// Position of this tap relative to the interpolation point.
			t := float64(tap) - (half - 1.0) - frac
			x := cutoff * t
			var s float64
			if x == 0.0 {
				s = 1.0
			} else {
				s = math.Sin(math.Pi*x) / (math.Pi * x)
			}
			w := windowValue(p.window, (float64(tap)+1.0-frac)/float64(taps+1))
			coeffs[tap] = s * w * cutoff
			sum += coeffs[tap]
		}
		// Normalize for unity DC gain.
		if sum != 0.0 {
			for tap := range coeffs {
				coeffs[tap] /= sum
			}
		}
		table[row] = coeffs
	}
	return &sincInterpolator{taps: taps, over: over, table: table}
}

func (s *sincInterpolator) halfTaps() int {
	return s.taps/2 + 1
}

func (s *sincInterpolator) interpolate(data []float64, idx int, frac float64) float64 {
	rowPos := frac * float64(s.over)
	row := int(rowPos)
	rowFrac := rowPos - float64(row)
	lo := s.table[row]
	hi := s.table[row]
	if row < s.over {
		hi = s.table[row+1]
	}
	start := idx - (s.taps/2 - 1)
	acc := 0.0
	for tap := 0; tap < s.taps; tap++ {
		pos := start + tap
		if pos < 0 || pos >= len(data) {
			continue
		}
		coeff := lo[tap] + rowFrac*(hi[tap]-lo[tap])
		acc += coeff * data[pos]
	}
	return acc
}
