package dsp

import (
	"math"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// BiquadCombo is a cascade of biquads forming a higher order Butterworth or
// Linkwitz-Riley crossover filter.
type BiquadCombo struct {
	name       string
	samplerate int
	filters    []*Biquad
}

// butterworthQ returns the Q value per second order section of a
// Butterworth filter of the given order: Q_k = 1/(2 sin(pi/n (k+1/2))). An
// odd order appends -1, marking a first order section.
func butterworthQ(order int) []float64 {
	odd := order%2 > 0
	nSections := order / 2
	qValues := make([]float64, 0, nSections+1)
	for n := 0; n < nSections; n++ {
		q := 1.0 / (2.0 * math.Sin(math.Pi/float64(order)*(float64(n)+0.5)))
		qValues = append(qValues, q)
	}
	if odd {
		qValues = append(qValues, -1.0)
	}
	return qValues
}

// linkwitzRileyQ builds the Q list of an LR filter of the given order: two
// cascaded Butterworth filters of half the order, with a Q=0.5 section
// replacing the two first order sections when order/2 is odd.
func linkwitzRileyQ(order int) []float64 {
	qTemp := butterworthQ(order / 2)
	if order%4 > 0 {
		qTemp = qTemp[:len(qTemp)-1]
		qValues := make([]float64, 0, 2*len(qTemp)+1)
		qValues = append(qValues, qTemp...)
		qValues = append(qValues, qTemp...)
		qValues = append(qValues, 0.5)
		return qValues
	}
	qValues := make([]float64, 0, 2*len(qTemp))
	qValues = append(qValues, qTemp...)
	qValues = append(qValues, qTemp...)
	return qValues
}

func sectionsFromQ(samplerate int, freq float64, qValues []float64, highpass bool) []*Biquad {
	filters := make([]*Biquad, 0, len(qValues))
	for _, q := range qValues {
		var p conf.FilterParams
		switch {
		case q >= 0.0 && highpass:
			p = conf.FilterParams{Type: "Highpass", Freq: freq, Q: q}
		case q >= 0.0:
			p = conf.FilterParams{Type: "Lowpass", Freq: freq, Q: q}
		case highpass:
			p = conf.FilterParams{Type: "HighpassFO", Freq: freq}
		default:
			p = conf.FilterParams{Type: "LowpassFO", Freq: freq}
		}
		filters = append(filters, NewBiquadFromConfig("", samplerate, p))
	}
	return filters
}

func comboSections(samplerate int, p conf.FilterParams) []*Biquad {
	switch p.Type {
	case "ButterworthHighpass":
		return sectionsFromQ(samplerate, p.Freq, butterworthQ(p.Order), true)
	case "ButterworthLowpass":
		return sectionsFromQ(samplerate, p.Freq, butterworthQ(p.Order), false)
	case "LinkwitzRileyHighpass":
		return sectionsFromQ(samplerate, p.Freq, linkwitzRileyQ(p.Order), true)
	case "LinkwitzRileyLowpass":
		return sectionsFromQ(samplerate, p.Freq, linkwitzRileyQ(p.Order), false)
	default:
		panic("unknown biquad combo type " + p.Type)
	}
}

// NewBiquadCombo creates a filter cascade from config.
func NewBiquadCombo(name string, samplerate int, p conf.FilterParams) *BiquadCombo {
	return &BiquadCombo{
		name:       name,
		samplerate: samplerate,
		filters:    comboSections(samplerate, p),
	}
}

func (c *BiquadCombo) Name() string { return c.name }

func (c *BiquadCombo) ProcessWaveform(waveform []float64) error {
	for _, f := range c.filters {
		if err := f.ProcessWaveform(waveform); err != nil {
			return err
		}
	}
	return nil
}

func (c *BiquadCombo) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "BiquadCombo" {
		panic("invalid config change for BiquadCombo filter")
	}
	c.filters = comboSections(c.samplerate, cfg.Parameters)
}
