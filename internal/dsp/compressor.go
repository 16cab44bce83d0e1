package dsp

import (
	"log/slog"
	"math"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// Compressor reduces dynamics above a threshold. It monitors the sum of the
// monitor channels, follows the level with single pole attack/release
// smoothing, and applies the resulting gain to the process channels, with
// an optional embedded limiter.
type Compressor struct {
	name            string
	channels        int
	monitorChannels []int
	processChannels []int
	attack          float64
	release         float64
	threshold       float64
	factor          float64
	makeupGain      float64
	limiter         *Limiter
	samplerate      int
	scratch         []float64
	prevLoudness    float64
	logger          *slog.Logger
}

func compressorChannels(p *conf.ProcessorParams) (monitor, process []int) {
	monitor = p.MonitorChannels
	if len(monitor) == 0 {
		for n := 0; n < p.Channels; n++ {
			monitor = append(monitor, n)
		}
	}
	process = p.ProcessChannels
	if len(process) == 0 {
		for n := 0; n < p.Channels; n++ {
			process = append(process, n)
		}
	}
	return monitor, process
}

// smoothingCoefficient converts a time constant in seconds to a single pole
// filter coefficient: exp(-1/(fs*tau)).
func smoothingCoefficient(samplerate int, tau float64) float64 {
	return math.Exp(-1.0 / float64(samplerate) / tau)
}

// NewCompressor creates a compressor from config.
func NewCompressor(name string, p conf.ProcessorParams, samplerate, chunksize int) *Compressor {
	monitor, process := compressorChannels(&p)
	var limiter *Limiter
	if p.EnableClip {
		limiter = NewLimiter("limiter", conf.FilterParams{
			ClipLimit: p.ClipLimit,
			SoftClip:  p.SoftClip,
		})
	}
	c := &Compressor{
		name:            name,
		channels:        p.Channels,
		monitorChannels: monitor,
		processChannels: process,
		attack:          smoothingCoefficient(samplerate, p.Attack),
		release:         smoothingCoefficient(samplerate, p.Release),
		threshold:       p.Threshold,
		factor:          p.Factor,
		makeupGain:      p.MakeupGain,
		limiter:         limiter,
		samplerate:      samplerate,
		scratch:         make([]float64, chunksize),
		prevLoudness:    -100.0,
		logger:          logging.ServiceLogger("dsp").With("component", "compressor", "processor", name),
	}
	c.logger.Debug("created compressor",
		"channels", c.channels,
		"monitor_channels", c.monitorChannels,
		"process_channels", c.processChannels,
		"threshold", c.threshold,
		"factor", c.factor)
	return c
}

func (c *Compressor) Name() string { return c.name }

// sumMonitorChannels stores the sum of the monitored channels in scratch.
// Unused channels contribute silence.
func (c *Compressor) sumMonitorChannels(input *audio.Chunk) {
	for i := range c.scratch {
		c.scratch[i] = 0.0
	}
	for _, ch := range c.monitorChannels {
		wf := input.Waveforms[ch]
		for i := 0; i < len(wf) && i < len(c.scratch); i++ {
			c.scratch[i] += wf[i]
		}
	}
}

// estimateLoudness converts scratch to a smoothed dB envelope.
func (c *Compressor) estimateLoudness() {
	for i, v := range c.scratch {
		val := 20.0 * math.Log10(math.Abs(v)+1.0e-9)
		if val >= c.prevLoudness {
			val = c.attack*c.prevLoudness + (1.0-c.attack)*val
		} else {
			val = c.release*c.prevLoudness + (1.0-c.release)*val
		}
		c.prevLoudness = val
		c.scratch[i] = val
	}
}

// calculateLinearGain converts the envelope in scratch to linear gains.
func (c *Compressor) calculateLinearGain() {
	for i, env := range c.scratch {
		gainDB := 0.0
		if env > c.threshold {
			gainDB = -(env - c.threshold) * (c.factor - 1.0) / c.factor
		}
		gainDB += c.makeupGain
		c.scratch[i] = dbToLinear(gainDB)
	}
}

func (c *Compressor) applyGain(input []float64) {
	for i := 0; i < len(input) && i < len(c.scratch); i++ {
		input[i] *= c.scratch[i]
	}
}

// ProcessChunk applies the compressor to a chunk in place.
func (c *Compressor) ProcessChunk(chunk *audio.Chunk) error {
	c.sumMonitorChannels(chunk)
	c.estimateLoudness()
	c.calculateLinearGain()
	for _, ch := range c.processChannels {
		wf := chunk.Waveforms[ch]
		if len(wf) == 0 {
			continue
		}
		c.applyGain(wf)
		if c.limiter != nil {
			c.limiter.ApplyClip(wf)
		}
	}
	return nil
}

func (c *Compressor) UpdateParameters(cfg conf.ProcessorConfig) {
	if cfg.Type != "Compressor" {
		panic("invalid config change for Compressor processor")
	}
	p := cfg.Parameters
	monitor, process := compressorChannels(&p)
	c.monitorChannels = monitor
	c.processChannels = process
	c.attack = smoothingCoefficient(c.samplerate, p.Attack)
	c.release = smoothingCoefficient(c.samplerate, p.Release)
	c.threshold = p.Threshold
	c.factor = p.Factor
	c.makeupGain = p.MakeupGain
	if p.EnableClip {
		c.limiter = NewLimiter("limiter", conf.FilterParams{
			ClipLimit: p.ClipLimit,
			SoftClip:  p.SoftClip,
		})
	} else {
		c.limiter = nil
	}
}
