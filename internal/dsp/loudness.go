package dsp

import (
	"math"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// Loudness shelf corner frequencies and slope, fixed like the analog
// loudness controls this models.
const (
	loudnessHighFreq = 3500.0
	loudnessLowFreq  = 70.0
	loudnessSlope    = 12.0
)

// Loudness combines a fader-driven volume with low and high shelf boosts
// that grow as the volume drops below a reference level.
type Loudness struct {
	name             string
	fader            int
	rampTimeInChunks int
	currentVolume    float64
	targetVolume     float64
	targetLinearGain float64
	mute             bool
	rampStart        float64
	rampStep         int
	samplerate       int
	chunksize        int
	params           *audio.ProcessingParameters
	referenceLevel   float64
	highBoost        float64
	lowBoost         float64
	highShelf        *Biquad
	lowShelf         *Biquad
	ramp             []float64
}

// relBoost maps the distance below the reference level to the fraction of
// the configured boost to apply, clipped to [0, 1].
func relBoost(level, reference float64) float64 {
	rel := (reference - level) / 20.0
	if rel < 0.0 {
		return 0.0
	}
	if rel > 1.0 {
		return 1.0
	}
	return rel
}

func (l *Loudness) shelfCoefficients(level float64) (high, low BiquadCoefficients) {
	rel := relBoost(level, l.referenceLevel)
	high = CoefficientsFromConfig(l.samplerate, conf.FilterParams{
		Type: "Highshelf", Freq: loudnessHighFreq, Slope: loudnessSlope, Gain: rel * l.highBoost,
	})
	low = CoefficientsFromConfig(l.samplerate, conf.FilterParams{
		Type: "Lowshelf", Freq: loudnessLowFreq, Slope: loudnessSlope, Gain: rel * l.lowBoost,
	})
	return high, low
}

// NewLoudness creates a loudness filter bound to a fader of the shared
// processing parameters.
func NewLoudness(name string, p conf.FilterParams, chunksize, samplerate int, params *audio.ProcessingParameters) *Loudness {
	current := float64(params.CurrentVolume(p.Fader))
	l := &Loudness{
		name:             name,
		fader:            p.Fader,
		rampTimeInChunks: rampChunks(p.RampTime, chunksize, samplerate),
		currentVolume:    current,
		targetVolume:     current,
		targetLinearGain: dbToLinear(current),
		mute:             params.IsMute(p.Fader),
		rampStart:        current,
		samplerate:       samplerate,
		chunksize:        chunksize,
		params:           params,
		referenceLevel:   p.ReferenceLevel,
		highBoost:        p.HighBoost,
		lowBoost:         p.LowBoost,
		ramp:             make([]float64, chunksize),
	}
	high, low := l.shelfCoefficients(current)
	l.highShelf = NewBiquad("highshelf", samplerate, high)
	l.lowShelf = NewBiquad("lowshelf", samplerate, low)
	return l
}

func (l *Loudness) Name() string { return l.name }

func (l *Loudness) effectiveTarget() float64 {
	if l.mute {
		return mutedVolumeDB
	}
	return l.targetVolume
}

func (l *Loudness) makeRamp() {
	rampRange := (l.effectiveTarget() - l.rampStart) / float64(l.rampTimeInChunks)
	stepSize := rampRange / float64(l.chunksize)
	base := l.rampStart + rampRange*(float64(l.rampStep)-1.0)
	for n := range l.ramp {
		l.ramp[n] = dbToLinear(base + float64(n)*stepSize)
	}
}

func (l *Loudness) ProcessWaveform(waveform []float64) error {
	sharedVol := float64(l.params.TargetVolume(l.fader))
	sharedMute := l.params.IsMute(l.fader)

	if math.Abs(sharedVol-l.targetVolume) > 0.01 || l.mute != sharedMute {
		if l.rampTimeInChunks > 0 {
			l.rampStart = l.currentVolume
			l.rampStep = 1
		} else {
			if sharedMute {
				l.currentVolume = 0.0
			} else {
				l.currentVolume = sharedVol
			}
			l.rampStep = 0
		}
		l.targetVolume = sharedVol
		if sharedMute {
			l.targetLinearGain = 0.0
		} else {
			l.targetLinearGain = dbToLinear(sharedVol)
		}
		l.mute = sharedMute
	}

	switch {
	case l.rampStep == 0:
		for i := range waveform {
			waveform[i] *= l.targetLinearGain
		}
	case l.rampStep <= l.rampTimeInChunks:
		l.makeRamp()
		l.rampStep++
		if l.rampStep > l.rampTimeInChunks {
			// Last step of the ramp
			l.rampStep = 0
		}
		for i := range waveform {
			waveform[i] *= l.ramp[i]
		}
		l.currentVolume = linearToDB(l.ramp[len(l.ramp)-1])
		high, low := l.shelfCoefficients(l.currentVolume)
		l.highShelf.setCoefficients(high)
		l.lowShelf.setCoefficients(low)
	}

	if relBoost(l.currentVolume, l.referenceLevel) > 0.0 {
		if err := l.highShelf.ProcessWaveform(waveform); err != nil {
			return err
		}
		if err := l.lowShelf.ProcessWaveform(waveform); err != nil {
			return err
		}
	}
	l.params.SetCurrentVolume(l.fader, float32(l.currentVolume))
	return nil
}

func (l *Loudness) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Loudness" {
		panic("invalid config change for Loudness filter")
	}
	p := cfg.Parameters
	l.rampTimeInChunks = rampChunks(p.RampTime, l.chunksize, l.samplerate)
	l.referenceLevel = p.ReferenceLevel
	l.highBoost = p.HighBoost
	l.lowBoost = p.LowBoost
	high, low := l.shelfCoefficients(float64(l.params.CurrentVolume(l.fader)))
	l.highShelf.setCoefficients(high)
	l.lowShelf.setCoefficients(low)
}
