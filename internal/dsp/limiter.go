package dsp

import "github.com/mvirtane/flowdsp-go/internal/conf"

// cubeFactor shapes the soft clip curve: 1 / (2 * 1.5^3).
const cubeFactor = 1.0 / 6.75

// Limiter bounds the signal to a configured level, either by hard clipping
// or by a smooth cubic soft clip.
type Limiter struct {
	name      string
	softClip  bool
	clipLimit float64
}

// NewLimiter creates a limiter from config. ClipLimit is given in dB.
func NewLimiter(name string, p conf.FilterParams) *Limiter {
	return &Limiter{
		name:      name,
		softClip:  p.SoftClip,
		clipLimit: dbToLinear(p.ClipLimit),
	}
}

func (l *Limiter) Name() string { return l.name }

func (l *Limiter) applySoftClip(input []float64) {
	for i, v := range input {
		scaled := v / l.clipLimit
		if scaled > 1.5 {
			scaled = 1.5
		} else if scaled < -1.5 {
			scaled = -1.5
		}
		scaled -= cubeFactor * scaled * scaled * scaled
		input[i] = scaled * l.clipLimit
	}
}

func (l *Limiter) applyHardClip(input []float64) {
	for i, v := range input {
		if v > l.clipLimit {
			input[i] = l.clipLimit
		} else if v < -l.clipLimit {
			input[i] = -l.clipLimit
		}
	}
}

// ApplyClip bounds the samples in place.
func (l *Limiter) ApplyClip(input []float64) {
	if l.softClip {
		l.applySoftClip(input)
	} else {
		l.applyHardClip(input)
	}
}

func (l *Limiter) ProcessWaveform(waveform []float64) error {
	l.ApplyClip(waveform)
	return nil
}

func (l *Limiter) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Limiter" {
		panic("invalid config change for Limiter filter")
	}
	l.softClip = cfg.Parameters.SoftClip
	l.clipLimit = dbToLinear(cfg.Parameters.ClipLimit)
}
