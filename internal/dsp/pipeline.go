package dsp

import (
	"log/slog"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// pipelineStep is one of three kinds: a mixer step sets mixer, a processor
// step sets processor, and a filter step sets neither but carries channel,
// filters and names.
type pipelineStep struct {
	mixer     *Mixer
	channel   int
	filters   []Filter
	names     []string
	processor Processor
	procName  string
	mixerName string
}

// Pipeline runs the configured sequence of mixers, per-channel filters and
// multi-channel processors over chunks. It is built once per session and
// rebuilt or updated in place on config reloads.
type Pipeline struct {
	steps []pipelineStep
	// filters and processors index every named entity once; steps
	// referencing the same name share the instance and its state.
	filters    map[string]Filter
	mixers     map[string]*Mixer
	processors map[string]Processor
	logger     *slog.Logger
}

// buildFilter instantiates one filter from its config.
func buildFilter(name string, cfg conf.FilterConfig, chunksize, samplerate int, params *audio.ProcessingParameters) (Filter, error) {
	switch cfg.Type {
	case "Gain":
		return NewGain(name, cfg.Parameters), nil
	case "Delay":
		return NewDelay(name, samplerate, cfg.Parameters), nil
	case "Volume":
		return NewVolume(name, cfg.Parameters, chunksize, samplerate, params), nil
	case "Loudness":
		return NewLoudness(name, cfg.Parameters, chunksize, samplerate, params), nil
	case "Biquad":
		return NewBiquadFromConfig(name, samplerate, cfg.Parameters), nil
	case "BiquadCombo":
		return NewBiquadCombo(name, samplerate, cfg.Parameters), nil
	case "DiffEq":
		return NewDiffEq(name, cfg.Parameters), nil
	case "Conv":
		return NewConvFromConfig(name, chunksize, cfg.Parameters)
	case "Dither":
		return NewDither(name, cfg.Parameters), nil
	case "Limiter":
		return NewLimiter(name, cfg.Parameters), nil
	default:
		return nil, errors.Newf("unknown filter type %q", cfg.Type).
			Component("dsp").
			Category(errors.CategoryValidation).
			Context("filter", name).
			Build()
	}
}

func buildProcessor(name string, cfg conf.ProcessorConfig, chunksize, samplerate int) (Processor, error) {
	switch cfg.Type {
	case "Compressor":
		return NewCompressor(name, cfg.Parameters, samplerate, chunksize), nil
	case "RACE":
		return NewRACE(name, cfg.Parameters, samplerate), nil
	default:
		return nil, errors.Newf("unknown processor type %q", cfg.Type).
			Component("dsp").
			Category(errors.CategoryValidation).
			Context("processor", name).
			Build()
	}
}

// NewPipeline builds the processing graph from a validated config. Each
// named filter is instantiated once and shared between the steps that
// reference it.
func NewPipeline(cfg *conf.Config, params *audio.ProcessingParameters) (*Pipeline, error) {
	chunksize := cfg.Devices.Chunksize
	samplerate := cfg.Devices.Samplerate
	p := &Pipeline{
		filters:    make(map[string]Filter),
		mixers:     make(map[string]*Mixer),
		processors: make(map[string]Processor),
		logger:     logging.ServiceLogger("dsp").With("component", "pipeline"),
	}
	for _, step := range cfg.Pipeline {
		switch step.Type {
		case conf.StepMixer:
			mixer, ok := p.mixers[step.Name]
			if !ok {
				mixer = NewMixer(step.Name, cfg.Mixers[step.Name])
				p.mixers[step.Name] = mixer
			}
			p.steps = append(p.steps, pipelineStep{mixer: mixer, mixerName: step.Name})
		case conf.StepFilter:
			filters := make([]Filter, 0, len(step.Names))
			for _, name := range step.Names {
				filter, ok := p.filters[name]
				if !ok {
					var err error
					filter, err = buildFilter(name, cfg.Filters[name], chunksize, samplerate, params)
					if err != nil {
						return nil, err
					}
					p.filters[name] = filter
				}
				filters = append(filters, filter)
			}
			names := make([]string, len(step.Names))
			copy(names, step.Names)
			p.steps = append(p.steps, pipelineStep{
				channel: step.Channel,
				filters: filters,
				names:   names,
			})
		case conf.StepProcessor:
			proc, ok := p.processors[step.Name]
			if !ok {
				var err error
				proc, err = buildProcessor(step.Name, cfg.Processors[step.Name], chunksize, samplerate)
				if err != nil {
					return nil, err
				}
				p.processors[step.Name] = proc
			}
			p.steps = append(p.steps, pipelineStep{processor: proc, procName: step.Name})
		}
	}
	p.logger.Debug("pipeline built",
		"steps", len(p.steps),
		"filters", len(p.filters),
		"mixers", len(p.mixers),
		"processors", len(p.processors))
	return p, nil
}

// ProcessChunk runs all steps in declared order. Filter and processor steps
// work in place; a mixer step replaces the chunk with one of a possibly
// different channel count. Filters on unused channels are skipped.
func (p *Pipeline) ProcessChunk(chunk *audio.Chunk) (*audio.Chunk, error) {
	for i := range p.steps {
		step := &p.steps[i]
		switch {
		case step.mixer != nil:
			chunk = step.mixer.ProcessChunk(chunk)
		case step.processor != nil:
			if err := step.processor.ProcessChunk(chunk); err != nil {
				return chunk, err
			}
		default:
			wf := chunk.Waveforms[step.channel]
			if len(wf) == 0 {
				continue
			}
			for _, filter := range step.filters {
				if err := filter.ProcessWaveform(wf); err != nil {
					return chunk, err
				}
			}
		}
	}
	return chunk, nil
}

// UpdateParameters applies a FilterParameters change in place: only the
// named entities see new parameter values, the graph topology is untouched.
func (p *Pipeline) UpdateParameters(cfg *conf.Config, filters, mixers, processors []string) {
	for _, name := range filters {
		if filter, ok := p.filters[name]; ok {
			filter.UpdateParameters(cfg.Filters[name])
		}
	}
	for _, name := range mixers {
		if mixer, ok := p.mixers[name]; ok {
			mixer.UpdateParameters(cfg.Mixers[name])
		}
	}
	for _, name := range processors {
		if proc, ok := p.processors[name]; ok {
			proc.UpdateParameters(cfg.Processors[name])
		}
	}
}
