package dsp

import (
	"math"
	"math/rand/v2"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// Dither quantizes the signal to a target bit depth with triangular noise
// and optional noise-shaping feedback through a named FIR.
type Dither struct {
	name      string
	scaleFact float64
	amplitude float64
	buffer    []float64
	filter    []float64
	idx       int
}

// Predefined noise shaping filter sets.
var ditherFilters = map[string][]float64{
	"Simple":       {0.8},
	"Lipshitz441":  {2.033, -2.165, 1.959, -1.590, 0.6149},
	"Fweighted441": {2.412, -3.370, 3.937, -4.174, 3.353, -2.205, 1.281, -0.569, 0.0847},
	"Shibata441": {
		2.6773197650909423828, -4.8308925628662109375, 6.570110321044921875,
		-7.4572014808654785156, 6.7263274192810058594, -4.8481650352478027344,
		2.0412089824676513672, 0.7006359100341796875, -2.9537565708160400391,
		4.0800385475158691406, -4.1845216751098632812, 3.3311812877655029297,
		-2.1179926395416259766, 0.879302978515625, -0.031759146600961685181,
		-0.42382788658142089844, 0.47882103919982910156, -0.35490813851356506348,
		0.17496839165687561035, -0.060908168554306030273,
	},
	"Shibata48": {
		2.8720729351043701172, -5.0413231849670410156, 6.2442994117736816406,
		-5.8483986854553222656, 3.7067542076110839844, -1.0495119094848632812,
		-1.1830236911773681641, 2.1126792430877685547, -1.9094531536102294922,
		0.99913084506988525391, -0.17090806365013122559, -0.32615602016448974609,
		0.39127644896507263184, -0.26876461505889892578, 0.097676105797290802002,
		-0.023473845794796943665,
	},
}

// NewDither creates a dither filter from config.
func NewDither(name string, p conf.FilterParams) *Dither {
	var filter []float64
	amplitude := 1.0
	switch p.Type {
	case "Uniform":
		amplitude = p.Amplitude
	case "None":
		amplitude = 0.0
	default:
		filter = ditherFilters[p.Type]
	}
	return &Dither{
		name:      name,
		scaleFact: math.Pow(2.0, float64(p.Bits-1)),
		amplitude: amplitude,
		filter:    filter,
		buffer:    make([]float64, len(filter)),
	}
}

func (d *Dither) Name() string { return d.name }

// triangular draws from a triangular distribution on [-amplitude, amplitude]
// with mode zero, as the sum of two uniform draws.
func triangular(amplitude float64) float64 {
	return amplitude * (rand.Float64() - rand.Float64())
}

func (d *Dither) ProcessWaveform(waveform []float64) error {
	filterLen := len(d.filter)
	switch {
	case filterLen > 0:
		for i, v := range waveform {
			scaled := v * d.scaleFact
			filtBuf := 0.0
			for n, coeff := range d.filter {
				filtBuf += coeff * d.buffer[(n+d.idx)%filterLen]
			}
			if d.idx > 0 {
				d.idx--
			} else {
				d.idx = filterLen - 1
			}
			scaledPlusErr := scaled + filtBuf
			result := math.Round(scaledPlusErr + triangular(1.0))
			d.buffer[d.idx] = scaledPlusErr - result
			waveform[i] = result / d.scaleFact
		}
	case d.amplitude > 0.0:
		for i, v := range waveform {
			waveform[i] = math.Round(v*d.scaleFact+triangular(d.amplitude)) / d.scaleFact
		}
	default:
		for i, v := range waveform {
			waveform[i] = math.Round(v*d.scaleFact) / d.scaleFact
		}
	}
	return nil
}

func (d *Dither) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Dither" {
		panic("invalid config change for Dither filter")
	}
	*d = *NewDither(d.name, cfg.Parameters)
}
