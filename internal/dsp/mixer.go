package dsp

import (
	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// MixerSource is one resolved input feeding an output channel.
type MixerSource struct {
	Channel int
	Gain    float64
}

// Mixer produces a new chunk with a possibly different channel count by
// accumulating gain-weighted sources per output channel. Muted sources and
// muted mappings are dropped at build time.
type Mixer struct {
	name        string
	channelsIn  int
	channelsOut int
	mapping     [][]MixerSource
}

func sourceGain(src *conf.MixerSourceConfig) float64 {
	gain := src.Gain
	if src.Scale != "linear" {
		gain = dbToLinear(gain)
	}
	if src.Inverted {
		gain = -gain
	}
	return gain
}

func buildMapping(cfg *conf.MixerConfig, skipMuted bool) [][]MixerSource {
	mapping := make([][]MixerSource, cfg.Channels.Out)
	for i := range mapping {
		mapping[i] = []MixerSource{}
	}
	for _, m := range cfg.Mapping {
		if skipMuted && m.Mute {
			continue
		}
		for _, src := range m.Sources {
			if skipMuted && src.Mute {
				continue
			}
			mapping[m.Dest] = append(mapping[m.Dest], MixerSource{
				Channel: src.Channel,
				Gain:    sourceGain(&src),
			})
		}
	}
	return mapping
}

// NewMixer creates a mixer from config.
func NewMixer(name string, cfg conf.MixerConfig) *Mixer {
	return &Mixer{
		name:        name,
		channelsIn:  cfg.Channels.In,
		channelsOut: cfg.Channels.Out,
		mapping:     buildMapping(&cfg, true),
	}
}

func (m *Mixer) Name() string { return m.name }

// ChannelsIn returns the expected input channel count.
func (m *Mixer) ChannelsIn() int { return m.channelsIn }

// ChannelsOut returns the produced channel count.
func (m *Mixer) ChannelsOut() int { return m.channelsOut }

// ProcessChunk mixes the input into a new chunk. Empty input waveforms
// contribute nothing.
func (m *Mixer) ProcessChunk(input *audio.Chunk) *audio.Chunk {
	waveforms := make([][]float64, m.channelsOut)
	for outChan := 0; outChan < m.channelsOut; outChan++ {
		wf := make([]float64, input.Frames)
		for _, src := range m.mapping[outChan] {
			srcWf := input.Waveforms[src.Channel]
			if len(srcWf) == 0 {
				continue
			}
			gain := src.Gain
			for n := 0; n < input.Frames && n < len(srcWf); n++ {
				wf[n] += gain * srcWf[n]
			}
		}
		waveforms[outChan] = wf
	}
	return audio.DerivedChunk(input, waveforms)
}

// UpdateParameters rebuilds the routing from a new config.
func (m *Mixer) UpdateParameters(cfg conf.MixerConfig) {
	m.channelsIn = cfg.Channels.In
	m.channelsOut = cfg.Channels.Out
	m.mapping = buildMapping(&cfg, true)
}
