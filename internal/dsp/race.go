package dsp

import (
	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// RACE is a recursive ambiophonic crosstalk eliminator: two delay lines
// with attenuated, inverted cross feedback between a channel pair.
type RACE struct {
	name       string
	channels   int
	channelA   int
	channelB   int
	feedbackA  float64
	feedbackB  float64
	delayA     *Delay
	delayB     *Delay
	gain       *Gain
	samplerate int
}

// raceDelayParams compensates the recursion latency by subtracting one
// sample period from the configured delay, clamped at zero.
func raceDelayParams(p *conf.ProcessorParams, samplerate int) conf.FilterParams {
	var samplePeriod float64
	switch p.DelayUnit {
	case "samples":
		samplePeriod = 1.0
	case "mm":
		samplePeriod = speedOfSound * 1000.0 / float64(samplerate)
	default: // ms
		samplePeriod = 1000.0 / float64(samplerate)
	}
	compensated := p.Delay - samplePeriod
	if compensated < 0.0 {
		compensated = 0.0
	}
	return conf.FilterParams{
		Delay:     compensated,
		Unit:      p.DelayUnit,
		Subsample: p.Subsample,
	}
}

func raceGainParams(p *conf.ProcessorParams) conf.FilterParams {
	return conf.FilterParams{
		Gain:     -p.Attenuation,
		Inverted: true,
	}
}

// NewRACE creates a RACE processor from config.
func NewRACE(name string, p conf.ProcessorParams, samplerate int) *RACE {
	delayParams := raceDelayParams(&p, samplerate)
	chA, chB := p.ChannelA, p.ChannelB
	if chA > chB {
		chA, chB = chB, chA
	}
	return &RACE{
		name:       name,
		channels:   p.Channels,
		channelA:   chA,
		channelB:   chB,
		delayA:     NewDelay("delay_a", samplerate, delayParams),
		delayB:     NewDelay("delay_b", samplerate, delayParams),
		gain:       NewGain("gain", raceGainParams(&p)),
		samplerate: samplerate,
	}
}

func (r *RACE) Name() string { return r.name }

// ProcessChunk runs the cross feedback recursion over the channel pair in
// place. Unused channels leave the chunk untouched.
func (r *RACE) ProcessChunk(chunk *audio.Chunk) error {
	chanA := chunk.Waveforms[r.channelA]
	chanB := chunk.Waveforms[r.channelB]
	if len(chanA) == 0 || len(chanB) == 0 {
		return nil
	}
	for i := 0; i < len(chanA) && i < len(chanB); i++ {
		addedA := chanA[i] + r.feedbackB
		addedB := chanB[i] + r.feedbackA
		r.feedbackA = r.gain.ProcessSingle(r.delayA.ProcessSingle(addedA))
		r.feedbackB = r.gain.ProcessSingle(r.delayB.ProcessSingle(addedB))
		chanA[i] = addedA
		chanB[i] = addedB
	}
	return nil
}

func (r *RACE) UpdateParameters(cfg conf.ProcessorConfig) {
	if cfg.Type != "RACE" {
		panic("invalid config change for RACE processor")
	}
	p := cfg.Parameters
	r.channels = p.Channels
	delayParams := raceDelayParams(&p, r.samplerate)
	r.delayA.UpdateParameters(conf.FilterConfig{Type: "Delay", Parameters: delayParams})
	r.delayB.UpdateParameters(conf.FilterConfig{Type: "Delay", Parameters: delayParams})
	r.gain.UpdateParameters(conf.FilterConfig{Type: "Gain", Parameters: raceGainParams(&p)})
	chA, chB := p.ChannelA, p.ChannelB
	if chA > chB {
		chA, chB = chB, chA
	}
	r.channelA = chA
	r.channelB = chB
}
