package dsp

import (
	"log/slog"
	"math"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// speedOfSound is used to convert delays given in millimetres, in m/s.
const speedOfSound = 343.0

// Gain scales a waveform by a fixed factor, optionally inverting polarity
// or muting.
type Gain struct {
	name string
	gain float64
}

func gainFactor(p *conf.FilterParams) float64 {
	gain := p.Gain
	if p.Scale != "linear" {
		gain = dbToLinear(gain)
	}
	if p.Inverted {
		gain = -gain
	}
	if p.Mute {
		gain = 0.0
	}
	return gain
}

// NewGain creates a gain filter from config.
func NewGain(name string, p conf.FilterParams) *Gain {
	return &Gain{name: name, gain: gainFactor(&p)}
}

func (g *Gain) Name() string { return g.name }

func (g *Gain) ProcessWaveform(waveform []float64) error {
	for i := range waveform {
		waveform[i] *= g.gain
	}
	return nil
}

func (g *Gain) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Gain" {
		panic("invalid config change for Gain filter")
	}
	g.gain = gainFactor(&cfg.Parameters)
}

// ProcessSingle applies the gain to one sample, used by RACE.
func (g *Gain) ProcessSingle(input float64) float64 {
	return input * g.gain
}

// Delay delays a waveform by a whole number of samples through a ring
// buffer, plus an optional fractional sample by linear interpolation.
type Delay struct {
	name       string
	samplerate int
	ring       []float64
	idx        int
	frac       float64
	prevOut    float64
	subsample  bool
}

func delaySamples(p *conf.FilterParams, samplerate int) float64 {
	switch p.Unit {
	case "samples":
		return p.Delay
	case "mm":
		return p.Delay / 1000.0 / speedOfSound * float64(samplerate)
	default: // ms
		return p.Delay / 1000.0 * float64(samplerate)
	}
}

// NewDelay creates a delay filter from config.
func NewDelay(name string, samplerate int, p conf.FilterParams) *Delay {
	d := &Delay{name: name, samplerate: samplerate}
	d.configure(&p)
	return d
}

func (d *Delay) configure(p *conf.FilterParams) {
	samples := delaySamples(p, d.samplerate)
	whole := int(samples)
	d.subsample = p.Subsample
	if d.subsample {
		d.frac = samples - float64(whole)
	} else {
		whole = int(math.Round(samples))
		d.frac = 0.0
	}
	d.ring = make([]float64, whole)
	d.idx = 0
	d.prevOut = 0.0
}

func (d *Delay) Name() string { return d.name }

func (d *Delay) ProcessWaveform(waveform []float64) error {
	for i := range waveform {
		waveform[i] = d.ProcessSingle(waveform[i])
	}
	return nil
}

// ProcessSingle pushes one sample through the delay line.
func (d *Delay) ProcessSingle(input float64) float64 {
	out := input
	if len(d.ring) > 0 {
		out = d.ring[d.idx]
		d.ring[d.idx] = input
		d.idx++
		if d.idx == len(d.ring) {
			d.idx = 0
		}
	}
	if d.frac > 0.0 {
		interp := d.frac*d.prevOut + (1.0-d.frac)*out
		d.prevOut = out
		return interp
	}
	return out
}

func (d *Delay) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Delay" {
		panic("invalid config change for Delay filter")
	}
	d.configure(&cfg.Parameters)
}

// Volume applies the shared fader gain with click-free linear-dB ramping.
// It reads the fader's target each chunk and writes back the level it has
// reached.
type Volume struct {
	name             string
	fader            int
	rampTimeMs       float64
	rampTimeInChunks int
	currentVolume    float64
	targetVolume     float64
	mute             bool
	rampStart        float64
	rampStep         int
	samplerate       int
	chunksize        int
	params           *audio.ProcessingParameters
	ramp             []float64
	logger           *slog.Logger
}

// mutedVolumeDB is the level a mute ramps to; ramping to a finite dB value
// instead of zero linear gain avoids clicks.
const mutedVolumeDB = -100.0

// volumeChangeEpsilon is the smallest target change that starts a ramp.
const volumeChangeEpsilon = 0.001

// NewVolume creates a volume filter bound to a fader of the shared
// processing parameters.
func NewVolume(name string, p conf.FilterParams, chunksize, samplerate int, params *audio.ProcessingParameters) *Volume {
	current := float64(params.CurrentVolume(p.Fader))
	v := &Volume{
		name:          name,
		fader:         p.Fader,
		rampTimeMs:    p.RampTime,
		currentVolume: current,
		targetVolume:  current,
		mute:          params.IsMute(p.Fader),
		rampStart:     current,
		samplerate:    samplerate,
		chunksize:     chunksize,
		params:        params,
		ramp:          make([]float64, chunksize),
		logger:        logging.ServiceLogger("dsp").With("component", "volume", "filter", name),
	}
	v.rampTimeInChunks = rampChunks(p.RampTime, chunksize, samplerate)
	return v
}

func rampChunks(rampTimeMs float64, chunksize, samplerate int) int {
	return int(math.Round(rampTimeMs / (1000.0 * float64(chunksize) / float64(samplerate))))
}

func (v *Volume) Name() string { return v.name }

// effectiveTarget is the ramp goal, accounting for mute.
func (v *Volume) effectiveTarget() float64 {
	if v.mute {
		return mutedVolumeDB
	}
	return v.targetVolume
}

func (v *Volume) makeRamp() {
	rampRange := (v.effectiveTarget() - v.rampStart) / float64(v.rampTimeInChunks)
	stepSize := rampRange / float64(v.chunksize)
	base := v.rampStart + rampRange*(float64(v.rampStep)-1.0)
	for n := range v.ramp {
		v.ramp[n] = dbToLinear(base + float64(n)*stepSize)
	}
}

func (v *Volume) ProcessWaveform(waveform []float64) error {
	sharedVol := float64(v.params.TargetVolume(v.fader))
	sharedMute := v.params.IsMute(v.fader)

	// Fader setting changed
	if math.Abs(sharedVol-v.targetVolume) > volumeChangeEpsilon || sharedMute != v.mute {
		v.targetVolume = sharedVol
		v.mute = sharedMute
		if v.rampTimeInChunks > 0 {
			v.logger.Debug("starting volume ramp",
				"from", v.currentVolume, "to", v.effectiveTarget())
			v.rampStart = v.currentVolume
			v.rampStep = 1
		} else {
			v.currentVolume = v.effectiveTarget()
			v.rampStep = 0
		}
	}

	switch {
	case v.rampStep == 0:
		gain := dbToLinear(v.currentVolume)
		for i := range waveform {
			waveform[i] *= gain
		}
	case v.rampStep <= v.rampTimeInChunks:
		v.makeRamp()
		v.rampStep++
		if v.rampStep > v.rampTimeInChunks {
			// Last step of the ramp
			v.rampStep = 0
		}
		for i := range waveform {
			waveform[i] *= v.ramp[i]
		}
		v.currentVolume = linearToDB(v.ramp[len(v.ramp)-1])
	}
	v.params.SetCurrentVolume(v.fader, float32(v.currentVolume))
	return nil
}

func (v *Volume) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Volume" {
		panic("invalid config change for Volume filter")
	}
	v.rampTimeMs = cfg.Parameters.RampTime
	v.rampTimeInChunks = rampChunks(cfg.Parameters.RampTime, v.chunksize, v.samplerate)
}
