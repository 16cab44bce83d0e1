package conf

import (
	"strings"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

func validationError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("conf").
		Category(errors.CategoryValidation).
		Build()
}

// Validate checks a complete configuration: device fields, every referenced
// entity, per-type parameters, and that channel counts chain correctly
// through the pipeline.
func (c *Config) Validate() error {
	if err := c.validateDevices(); err != nil {
		return err
	}
	for name, mixer := range c.Mixers {
		if err := validateMixer(name, &mixer); err != nil {
			return err
		}
	}
	for name, filter := range c.Filters {
		if err := c.validateFilter(name, &filter); err != nil {
			return err
		}
	}
	for name, proc := range c.Processors {
		if err := validateProcessor(name, &proc); err != nil {
			return err
		}
	}
	return c.validatePipeline()
}

func (c *Config) validateDevices() error {
	d := &c.Devices
	if d.Samplerate <= 0 {
		return validationError("samplerate must be > 0")
	}
	if d.CaptureSamplerate < 0 {
		return validationError("capture_samplerate must be >= 0")
	}
	if d.Chunksize <= 0 {
		return validationError("chunksize must be > 0")
	}
	if d.QueueLimit <= 0 {
		return validationError("queuelimit must be > 0")
	}
	if d.Capture.Channels <= 0 {
		return validationError("capture device must have at least one channel")
	}
	if d.Playback.Channels <= 0 {
		return validationError("playback device must have at least one channel")
	}
	switch strings.ToLower(d.Capture.Type) {
	case "file", "stdin", "generator", "soundcard":
	default:
		return validationError("unknown capture device type %q", d.Capture.Type)
	}
	switch strings.ToLower(d.Playback.Type) {
	case "file", "stdout", "soundcard":
	default:
		return validationError("unknown playback device type %q", d.Playback.Type)
	}
	if strings.EqualFold(d.Capture.Type, "file") && d.Capture.Filename == "" {
		return validationError("capture device needs a filename")
	}
	if strings.EqualFold(d.Playback.Type, "file") && d.Playback.Filename == "" {
		return validationError("playback device needs a filename")
	}
	if d.Capture.Format != "" {
		if _, err := audio.ParseSampleFormat(d.Capture.Format); err != nil {
			return err
		}
	}
	if d.Playback.Format != "" {
		if _, err := audio.ParseSampleFormat(d.Playback.Format); err != nil {
			return err
		}
	}
	if d.CaptureSamplerate > 0 && d.CaptureSamplerate != d.Samplerate && d.Resampler == nil {
		return validationError("capture_samplerate differs from samplerate but no resampler is configured")
	}
	if d.Resampler != nil {
		switch d.Resampler.Type {
		case "Synchronous", "AsyncSinc", "AsyncPoly":
		default:
			return validationError("unknown resampler type %q", d.Resampler.Type)
		}
	}
	if d.SilenceTimeout < 0 {
		return validationError("silence_timeout cannot be negative")
	}
	if d.EnableRateAdjust {
		if d.AdjustPeriod <= 0 {
			return validationError("adjust_period must be > 0 when rate adjust is enabled")
		}
		if d.TargetLevel <= 0 {
			return validationError("target_level must be > 0 when rate adjust is enabled")
		}
	}
	return nil
}

func validateMixer(name string, m *MixerConfig) error {
	if m.Channels.In <= 0 || m.Channels.Out <= 0 {
		return validationError("mixer %q: channel counts must be > 0", name)
	}
	for _, mapping := range m.Mapping {
		if mapping.Dest >= m.Channels.Out {
			return validationError("mixer %q: invalid destination channel %d, max is %d",
				name, mapping.Dest, m.Channels.Out-1)
		}
		for _, src := range mapping.Sources {
			if src.Channel >= m.Channels.In {
				return validationError("mixer %q: invalid source channel %d, max is %d",
					name, src.Channel, m.Channels.In-1)
			}
			switch src.Scale {
			case "", "dB", "linear":
			default:
				return validationError("mixer %q: unknown gain scale %q", name, src.Scale)
			}
		}
	}
	return nil
}

func (c *Config) validateFilter(name string, f *FilterConfig) error {
	p := &f.Parameters
	maxFreq := float64(c.Devices.Samplerate) / 2.0
	switch f.Type {
	case "Gain":
		switch p.Scale {
		case "", "dB", "linear":
		default:
			return validationError("filter %q: unknown gain scale %q", name, p.Scale)
		}
	case "Delay":
		if p.Delay < 0 {
			return validationError("filter %q: delay cannot be negative", name)
		}
		switch p.Unit {
		case "", "ms", "samples", "mm":
		default:
			return validationError("filter %q: unknown delay unit %q", name, p.Unit)
		}
	case "Volume":
		if p.RampTime < 0 {
			return validationError("filter %q: ramp_time cannot be negative", name)
		}
		if p.Fader < 0 || p.Fader >= audio.NumFaders {
			return validationError("filter %q: fader must be 0..%d", name, audio.NumFaders-1)
		}
	case "Loudness":
		if p.ReferenceLevel > 0.0 || p.ReferenceLevel < -100.0 {
			return validationError("filter %q: reference_level must be within -100..0", name)
		}
		if p.HighBoost < 0.0 || p.HighBoost > 20.0 {
			return validationError("filter %q: high_boost must be within 0..20", name)
		}
		if p.LowBoost < 0.0 || p.LowBoost > 20.0 {
			return validationError("filter %q: low_boost must be within 0..20", name)
		}
		if p.RampTime < 0 {
			return validationError("filter %q: ramp_time cannot be negative", name)
		}
	case "Biquad":
		switch p.Type {
		case "Free":
		case "Highpass", "Lowpass", "Peaking":
			if p.Freq <= 0.0 || p.Freq >= maxFreq {
				return validationError("filter %q: freq must be within 0..samplerate/2", name)
			}
			if p.Q <= 0.0 {
				return validationError("filter %q: q must be > 0", name)
			}
		case "HighpassFO", "LowpassFO":
			if p.Freq <= 0.0 || p.Freq >= maxFreq {
				return validationError("filter %q: freq must be within 0..samplerate/2", name)
			}
		case "Highshelf", "Lowshelf":
			if p.Freq <= 0.0 || p.Freq >= maxFreq {
				return validationError("filter %q: freq must be within 0..samplerate/2", name)
			}
			if p.Slope <= 0.0 || p.Slope > 12.0 {
				return validationError("filter %q: slope must be within 0..12", name)
			}
		default:
			return validationError("filter %q: unknown biquad type %q", name, p.Type)
		}
	case "BiquadCombo":
		if p.Freq <= 0.0 || p.Freq >= maxFreq {
			return validationError("filter %q: freq must be within 0..samplerate/2", name)
		}
		switch p.Type {
		case "ButterworthHighpass", "ButterworthLowpass":
			if p.Order == 0 {
				return validationError("filter %q: Butterworth order must be larger than zero", name)
			}
		case "LinkwitzRileyHighpass", "LinkwitzRileyLowpass":
			if p.Order == 0 || p.Order%2 != 0 {
				return validationError("filter %q: LR order must be an even non-zero number", name)
			}
		default:
			return validationError("filter %q: unknown combo type %q", name, p.Type)
		}
	case "DiffEq":
		if len(p.A) == 0 && len(p.B) == 0 {
			return validationError("filter %q: a and b cannot both be empty", name)
		}
	case "Conv":
		if len(p.Values) == 0 && p.Filename == "" {
			return validationError("filter %q: impulse response is empty", name)
		}
		switch p.Format {
		case "", "text", "f64le", "f32le", "s16le", "wav":
		default:
			return validationError("filter %q: unknown coefficient format %q", name, p.Format)
		}
	case "Dither":
		switch p.Type {
		case "Simple", "Uniform", "Lipshitz441", "Fweighted441", "Shibata441", "Shibata48", "None":
		default:
			return validationError("filter %q: unknown dither type %q", name, p.Type)
		}
		if p.Bits < 2 || p.Bits > 32 {
			return validationError("filter %q: bits must be within 2..32", name)
		}
	case "Limiter":
		// any clip limit is allowed
	default:
		return validationError("filter %q: unknown filter type %q", name, f.Type)
	}
	return nil
}

func validateProcessor(name string, pc *ProcessorConfig) error {
	p := &pc.Parameters
	switch pc.Type {
	case "Compressor":
		if p.Channels <= 0 {
			return validationError("processor %q: channels must be > 0", name)
		}
		if p.Attack <= 0.0 {
			return validationError("processor %q: attack must be larger than zero", name)
		}
		if p.Release <= 0.0 {
			return validationError("processor %q: release must be larger than zero", name)
		}
		if p.Factor < 1.0 {
			return validationError("processor %q: factor must be >= 1", name)
		}
		for _, ch := range p.MonitorChannels {
			if ch >= p.Channels || ch < 0 {
				return validationError("processor %q: invalid monitor channel %d, max is %d",
					name, ch, p.Channels-1)
			}
		}
		for _, ch := range p.ProcessChannels {
			if ch >= p.Channels || ch < 0 {
				return validationError("processor %q: invalid channel to process %d, max is %d",
					name, ch, p.Channels-1)
			}
		}
	case "RACE":
		if p.Channels <= 0 {
			return validationError("processor %q: channels must be > 0", name)
		}
		if p.Attenuation <= 0.0 {
			return validationError("processor %q: attenuation must be larger than zero", name)
		}
		if p.Delay <= 0.0 {
			return validationError("processor %q: delay must be larger than zero", name)
		}
		if p.ChannelA == p.ChannelB {
			return validationError("processor %q: channels a and b must be different", name)
		}
		if p.ChannelA >= p.Channels || p.ChannelB >= p.Channels {
			return validationError("processor %q: channels a and b must be below %d", name, p.Channels)
		}
	default:
		return validationError("processor %q: unknown processor type %q", name, pc.Type)
	}
	return nil
}

// validatePipeline proves that channel counts chain correctly from the
// capture device through every step to the playback device.
func (c *Config) validatePipeline() error {
	channels := c.Devices.Capture.Channels
	for i, step := range c.Pipeline {
		switch step.Type {
		case StepMixer:
			mixer, ok := c.Mixers[step.Name]
			if !ok {
				return validationError("pipeline step %d: unknown mixer %q", i, step.Name)
			}
			if mixer.Channels.In != channels {
				return validationError("pipeline step %d: mixer %q expects %d input channels, got %d",
					i, step.Name, mixer.Channels.In, channels)
			}
			channels = mixer.Channels.Out
		case StepFilter:
			if step.Channel < 0 || step.Channel >= channels {
				return validationError("pipeline step %d: filter channel %d out of range, have %d channels",
					i, step.Channel, channels)
			}
			if len(step.Names) == 0 {
				return validationError("pipeline step %d: no filters listed", i)
			}
			for _, name := range step.Names {
				if _, ok := c.Filters[name]; !ok {
					return validationError("pipeline step %d: unknown filter %q", i, name)
				}
			}
		case StepProcessor:
			proc, ok := c.Processors[step.Name]
			if !ok {
				return validationError("pipeline step %d: unknown processor %q", i, step.Name)
			}
			if proc.Parameters.Channels != channels {
				return validationError("pipeline step %d: processor %q expects %d channels, got %d",
					i, step.Name, proc.Parameters.Channels, channels)
			}
		default:
			return validationError("pipeline step %d: unknown step type %q", i, step.Type)
		}
	}
	if channels != c.Devices.Playback.Channels {
		return validationError("pipeline produces %d channels but playback device has %d",
			channels, c.Devices.Playback.Channels)
	}
	return nil
}
