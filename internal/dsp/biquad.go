package dsp

import (
	"math"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// BiquadCoefficients holds one normalized second order section.
type BiquadCoefficients struct {
	A1, A2, B0, B1, B2 float64
}

// NormalizeCoefficients divides all coefficients by a0 before storing.
func NormalizeCoefficients(a0, a1, a2, b0, b1, b2 float64) BiquadCoefficients {
	return BiquadCoefficients{
		A1: a1 / a0,
		A2: a2 / a0,
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
	}
}

// CoefficientsFromConfig computes cookbook coefficients for the configured
// biquad type.
//
// Types:
//   - Free: coefficients given directly.
//   - Highpass, Lowpass: second order, by frequency and Q.
//   - HighpassFO, LowpassFO: first order, by frequency.
//   - Peaking: parametric, by gain, frequency and Q.
//   - Highshelf, Lowshelf: shelving with arbitrary slope; the frequency is
//     the middle of the slope.
func CoefficientsFromConfig(samplerate int, p conf.FilterParams) BiquadCoefficients {
	fs := float64(samplerate)
	omega := 2.0 * math.Pi * p.Freq / fs
	sn := math.Sin(omega)
	cs := math.Cos(omega)
	switch p.Type {
	case "Free":
		return BiquadCoefficients{A1: p.A1, A2: p.A2, B0: p.B0, B1: p.B1, B2: p.B2}
	case "Highpass":
		alpha := sn / (2.0 * p.Q)
		return NormalizeCoefficients(
			1.0+alpha, -2.0*cs, 1.0-alpha,
			(1.0+cs)/2.0, -(1.0+cs), (1.0+cs)/2.0)
	case "Lowpass":
		alpha := sn / (2.0 * p.Q)
		return NormalizeCoefficients(
			1.0+alpha, -2.0*cs, 1.0-alpha,
			(1.0-cs)/2.0, 1.0-cs, (1.0-cs)/2.0)
	case "HighpassFO":
		k := math.Tan(omega / 2.0)
		return NormalizeCoefficients(
			k+1.0, k-1.0, 0.0,
			1.0, -1.0, 0.0)
	case "LowpassFO":
		k := math.Tan(omega / 2.0)
		return NormalizeCoefficients(
			k+1.0, k-1.0, 0.0,
			k, k, 0.0)
	case "Peaking":
		ampl := math.Pow(10.0, p.Gain/40.0)
		alpha := sn / (2.0 * p.Q)
		return NormalizeCoefficients(
			1.0+alpha/ampl, -2.0*cs, 1.0-alpha/ampl,
			1.0+alpha*ampl, -2.0*cs, 1.0-alpha*ampl)
	case "Highshelf":
		ampl := math.Pow(10.0, p.Gain/40.0)
		alpha := sn / 2.0 * math.Sqrt((ampl+1.0/ampl)*(1.0/(p.Slope/12.0)-1.0)+2.0)
		beta := 2.0 * math.Sqrt(ampl) * alpha
		return NormalizeCoefficients(
			(ampl+1.0)-(ampl-1.0)*cs+beta,
			2.0*((ampl-1.0)-(ampl+1.0)*cs),
			(ampl+1.0)-(ampl-1.0)*cs-beta,
			ampl*((ampl+1.0)+(ampl-1.0)*cs+beta),
			-2.0*ampl*((ampl-1.0)+(ampl+1.0)*cs),
			ampl*((ampl+1.0)+(ampl-1.0)*cs-beta))
	case "Lowshelf":
		ampl := math.Pow(10.0, p.Gain/40.0)
		alpha := sn / 2.0 * math.Sqrt((ampl+1.0/ampl)*(1.0/(p.Slope/12.0)-1.0)+2.0)
		beta := 2.0 * math.Sqrt(ampl) * alpha
		return NormalizeCoefficients(
			(ampl+1.0)+(ampl-1.0)*cs+beta,
			-2.0*((ampl-1.0)+(ampl+1.0)*cs),
			(ampl+1.0)+(ampl-1.0)*cs-beta,
			ampl*((ampl+1.0)-(ampl-1.0)*cs+beta),
			2.0*ampl*((ampl-1.0)-(ampl+1.0)*cs),
			ampl*((ampl+1.0)-(ampl-1.0)*cs-beta))
	default:
		panic("unknown biquad type " + p.Type)
	}
}

// Biquad is a Direct Form 2 Transposed second order IIR section.
type Biquad struct {
	name       string
	samplerate int
	s1, s2     float64
	coeffs     BiquadCoefficients
}

// NewBiquad creates a biquad from precomputed coefficients.
func NewBiquad(name string, samplerate int, coeffs BiquadCoefficients) *Biquad {
	return &Biquad{name: name, samplerate: samplerate, coeffs: coeffs}
}

// NewBiquadFromConfig creates a biquad from a filter config.
func NewBiquadFromConfig(name string, samplerate int, p conf.FilterParams) *Biquad {
	return NewBiquad(name, samplerate, CoefficientsFromConfig(samplerate, p))
}

func (b *Biquad) Name() string { return b.name }

// ProcessSingle pushes one sample through the section.
func (b *Biquad) ProcessSingle(input float64) float64 {
	out := b.s1 + b.coeffs.B0*input
	b.s1 = b.s2 + b.coeffs.B1*input - b.coeffs.A1*out
	b.s2 = b.coeffs.B2*input - b.coeffs.A2*out
	return out
}

func (b *Biquad) ProcessWaveform(waveform []float64) error {
	for i := range waveform {
		waveform[i] = b.ProcessSingle(waveform[i])
	}
	return nil
}

func (b *Biquad) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Biquad" {
		panic("invalid config change for Biquad filter")
	}
	b.coeffs = CoefficientsFromConfig(b.samplerate, cfg.Parameters)
	b.s1 = 0.0
	b.s2 = 0.0
}

// setCoefficients swaps coefficients without resetting state, used by
// Loudness while ramping its shelves.
func (b *Biquad) setCoefficients(coeffs BiquadCoefficients) {
	b.coeffs = coeffs
}
