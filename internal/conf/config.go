// Package conf handles the YAML configuration: loading through viper,
// validation, and the change diffing that decides how much of a running
// engine a reload has to tear down.
package conf

import (
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// DeviceConfig describes one side of the audio path.
type DeviceConfig struct {
	Type     string `yaml:"type" mapstructure:"type"`
	Device   string `yaml:"device,omitempty" mapstructure:"device"`
	Filename string `yaml:"filename,omitempty" mapstructure:"filename"`
	Channels int    `yaml:"channels" mapstructure:"channels"`
	Format   string `yaml:"format,omitempty" mapstructure:"format"`
	// ExtraSamples zero samples are appended after end of file so FIR
	// tails can drain. Capture only.
	ExtraSamples int `yaml:"extra_samples,omitempty" mapstructure:"extra_samples"`
	// ReadBytes limits how much is read from a capture file; zero means
	// no limit.
	ReadBytes int `yaml:"read_bytes,omitempty" mapstructure:"read_bytes"`
	// Signal generator parameters (capture type "Generator").
	Signal    string  `yaml:"signal,omitempty" mapstructure:"signal"`
	Frequency float64 `yaml:"frequency,omitempty" mapstructure:"frequency"`
	Level     float64 `yaml:"level,omitempty" mapstructure:"level"`
}

// ResamplerConfig selects and parameterises the sample rate converter.
type ResamplerConfig struct {
	Type string `yaml:"type" mapstructure:"type"` // Synchronous | AsyncSinc | AsyncPoly
	// AsyncSinc
	Profile            string  `yaml:"profile,omitempty" mapstructure:"profile"`
	SincLen            int     `yaml:"sinc_len,omitempty" mapstructure:"sinc_len"`
	OversamplingFactor int     `yaml:"oversampling_factor,omitempty" mapstructure:"oversampling_factor"`
	Interpolation      string  `yaml:"interpolation,omitempty" mapstructure:"interpolation"`
	Window             string  `yaml:"window,omitempty" mapstructure:"window"`
	FCutoff            float64 `yaml:"f_cutoff,omitempty" mapstructure:"f_cutoff"`
}

// DevicesConfig is the `devices` section.
type DevicesConfig struct {
	Samplerate        int              `yaml:"samplerate" mapstructure:"samplerate"`
	CaptureSamplerate int              `yaml:"capture_samplerate,omitempty" mapstructure:"capture_samplerate"`
	Chunksize         int              `yaml:"chunksize" mapstructure:"chunksize"`
	QueueLimit        int              `yaml:"queuelimit,omitempty" mapstructure:"queuelimit"`
	Capture           DeviceConfig     `yaml:"capture" mapstructure:"capture"`
	Playback          DeviceConfig     `yaml:"playback" mapstructure:"playback"`
	Resampler         *ResamplerConfig `yaml:"resampler,omitempty" mapstructure:"resampler"`

	SilenceThreshold float64 `yaml:"silence_threshold,omitempty" mapstructure:"silence_threshold"` // dB
	SilenceTimeout   float64 `yaml:"silence_timeout,omitempty" mapstructure:"silence_timeout"`     // seconds

	EnableRateAdjust bool    `yaml:"enable_rate_adjust,omitempty" mapstructure:"enable_rate_adjust"`
	AdjustPeriod     float64 `yaml:"adjust_period,omitempty" mapstructure:"adjust_period"` // seconds
	TargetLevel      int     `yaml:"target_level,omitempty" mapstructure:"target_level"`   // frames

	StopOnRateChange    bool    `yaml:"stop_on_rate_change,omitempty" mapstructure:"stop_on_rate_change"`
	RateMeasureInterval float64 `yaml:"rate_measure_interval,omitempty" mapstructure:"rate_measure_interval"` // seconds
}

// MixerSourceConfig is one source feeding a mixer output channel.
type MixerSourceConfig struct {
	Channel  int     `yaml:"channel" mapstructure:"channel"`
	Gain     float64 `yaml:"gain,omitempty" mapstructure:"gain"`
	Inverted bool    `yaml:"inverted,omitempty" mapstructure:"inverted"`
	Mute     bool    `yaml:"mute,omitempty" mapstructure:"mute"`
	Scale    string  `yaml:"scale,omitempty" mapstructure:"scale"` // dB (default) | linear
}

// MixerMappingConfig routes sources to one destination channel.
type MixerMappingConfig struct {
	Dest    int                 `yaml:"dest" mapstructure:"dest"`
	Sources []MixerSourceConfig `yaml:"sources" mapstructure:"sources"`
	Mute    bool                `yaml:"mute,omitempty" mapstructure:"mute"`
}

// MixerChannelsConfig holds the channel counts of a mixer.
type MixerChannelsConfig struct {
	In  int `yaml:"in" mapstructure:"in"`
	Out int `yaml:"out" mapstructure:"out"`
}

// MixerConfig is one named mixer.
type MixerConfig struct {
	Channels MixerChannelsConfig  `yaml:"channels" mapstructure:"channels"`
	Mapping  []MixerMappingConfig `yaml:"mapping" mapstructure:"mapping"`
}

// FilterParams is the superset of the per-type filter parameters. Which
// fields are meaningful depends on FilterConfig.Type; validation enforces
// the per-type requirements.
type FilterParams struct {
	// Biquad and BiquadCombo subtype, e.g. Lowpass, LinkwitzRileyHighpass.
	Type string `yaml:"type,omitempty" mapstructure:"type"`

	// Gain
	Gain     float64 `yaml:"gain,omitempty" mapstructure:"gain"`
	Inverted bool    `yaml:"inverted,omitempty" mapstructure:"inverted"`
	Mute     bool    `yaml:"mute,omitempty" mapstructure:"mute"`
	Scale    string  `yaml:"scale,omitempty" mapstructure:"scale"`

	// Delay
	Delay     float64 `yaml:"delay,omitempty" mapstructure:"delay"`
	Unit      string  `yaml:"unit,omitempty" mapstructure:"unit"` // ms (default) | samples | mm
	Subsample bool    `yaml:"subsample,omitempty" mapstructure:"subsample"`

	// Volume and Loudness
	RampTime       float64 `yaml:"ramp_time,omitempty" mapstructure:"ramp_time"` // ms
	Fader          int     `yaml:"fader,omitempty" mapstructure:"fader"`
	ReferenceLevel float64 `yaml:"reference_level,omitempty" mapstructure:"reference_level"`
	HighBoost      float64 `yaml:"high_boost,omitempty" mapstructure:"high_boost"`
	LowBoost       float64 `yaml:"low_boost,omitempty" mapstructure:"low_boost"`

	// Biquad
	Freq  float64 `yaml:"freq,omitempty" mapstructure:"freq"`
	Q     float64 `yaml:"q,omitempty" mapstructure:"q"`
	Slope float64 `yaml:"slope,omitempty" mapstructure:"slope"`
	A1    float64 `yaml:"a1,omitempty" mapstructure:"a1"`
	A2    float64 `yaml:"a2,omitempty" mapstructure:"a2"`
	B0    float64 `yaml:"b0,omitempty" mapstructure:"b0"`
	B1    float64 `yaml:"b1,omitempty" mapstructure:"b1"`
	B2    float64 `yaml:"b2,omitempty" mapstructure:"b2"`

	// BiquadCombo
	Order int `yaml:"order,omitempty" mapstructure:"order"`

	// DiffEq
	A []float64 `yaml:"a,omitempty" mapstructure:"a"`
	B []float64 `yaml:"b,omitempty" mapstructure:"b"`

	// Conv
	Filename string    `yaml:"filename,omitempty" mapstructure:"filename"`
	Format   string    `yaml:"format,omitempty" mapstructure:"format"` // text | f64le | f32le | s16le | wav
	Values   []float64 `yaml:"values,omitempty" mapstructure:"values"`

	// Dither
	Bits      int     `yaml:"bits,omitempty" mapstructure:"bits"`
	Amplitude float64 `yaml:"amplitude,omitempty" mapstructure:"amplitude"`

	// Limiter
	ClipLimit float64 `yaml:"clip_limit,omitempty" mapstructure:"clip_limit"`
	SoftClip  bool    `yaml:"soft_clip,omitempty" mapstructure:"soft_clip"`
}

// FilterConfig is one named filter: a type tag plus its parameters.
type FilterConfig struct {
	Type       string       `yaml:"type" mapstructure:"type"`
	Parameters FilterParams `yaml:"parameters" mapstructure:"parameters"`
}

// ProcessorParams is the superset of multi-channel processor parameters.
type ProcessorParams struct {
	Channels int `yaml:"channels" mapstructure:"channels"`

	// Compressor
	MonitorChannels []int   `yaml:"monitor_channels,omitempty" mapstructure:"monitor_channels"`
	ProcessChannels []int   `yaml:"process_channels,omitempty" mapstructure:"process_channels"`
	Attack          float64 `yaml:"attack,omitempty" mapstructure:"attack"`   // seconds
	Release         float64 `yaml:"release,omitempty" mapstructure:"release"` // seconds
	Threshold       float64 `yaml:"threshold,omitempty" mapstructure:"threshold"`
	Factor          float64 `yaml:"factor,omitempty" mapstructure:"factor"`
	MakeupGain      float64 `yaml:"makeup_gain,omitempty" mapstructure:"makeup_gain"`
	EnableClip      bool    `yaml:"enable_clip,omitempty" mapstructure:"enable_clip"`
	ClipLimit       float64 `yaml:"clip_limit,omitempty" mapstructure:"clip_limit"`
	SoftClip        bool    `yaml:"soft_clip,omitempty" mapstructure:"soft_clip"`

	// RACE
	ChannelA    int     `yaml:"channel_a,omitempty" mapstructure:"channel_a"`
	ChannelB    int     `yaml:"channel_b,omitempty" mapstructure:"channel_b"`
	Attenuation float64 `yaml:"attenuation,omitempty" mapstructure:"attenuation"`
	Delay       float64 `yaml:"delay,omitempty" mapstructure:"delay"`
	DelayUnit   string  `yaml:"delay_unit,omitempty" mapstructure:"delay_unit"`
	Subsample   bool    `yaml:"subsample,omitempty" mapstructure:"subsample"`
}

// ProcessorConfig is one named multi-channel processor.
type ProcessorConfig struct {
	Type       string          `yaml:"type" mapstructure:"type"` // Compressor | RACE
	Parameters ProcessorParams `yaml:"parameters" mapstructure:"parameters"`
}

// PipelineStep is one entry of the `pipeline` list.
type PipelineStep struct {
	Type string `yaml:"type" mapstructure:"type"` // Mixer | Filter | Processor
	// Name references a mixer or processor.
	Name string `yaml:"name,omitempty" mapstructure:"name"`
	// Channel and Names describe a Filter step.
	Channel int      `yaml:"channel,omitempty" mapstructure:"channel"`
	Names   []string `yaml:"names,omitempty" mapstructure:"names"`
}

// Config is a complete engine configuration.
type Config struct {
	Devices    DevicesConfig              `yaml:"devices" mapstructure:"devices"`
	Mixers     map[string]MixerConfig     `yaml:"mixers,omitempty" mapstructure:"mixers"`
	Filters    map[string]FilterConfig    `yaml:"filters,omitempty" mapstructure:"filters"`
	Processors map[string]ProcessorConfig `yaml:"processors,omitempty" mapstructure:"processors"`
	Pipeline   []PipelineStep             `yaml:"pipeline,omitempty" mapstructure:"pipeline"`
}

// Overrides are command-line overrides applied on top of a loaded file.
type Overrides struct {
	Samplerate   int
	Channels     int
	Format       string
	ExtraSamples int
}

// Load reads and unmarshals a config file. The result is not yet validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("flowdsp")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return cfg, nil
}

// LoadBytes unmarshals a config from raw YAML, as received over the control
// socket.
func LoadBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Apply merges command line overrides into cfg.
func (c *Config) Apply(o *Overrides) {
	if o == nil {
		return
	}
	if o.Samplerate > 0 {
		c.Devices.Samplerate = o.Samplerate
	}
	if o.Channels > 0 {
		c.Devices.Capture.Channels = o.Channels
	}
	if o.Format != "" {
		c.Devices.Capture.Format = o.Format
	}
	if o.ExtraSamples > 0 {
		c.Devices.Capture.ExtraSamples = o.ExtraSamples
	}
}

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteFile stores the config as YAML at path.
func (c *Config) WriteFile(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("devices.queuelimit", defaultQueueLimit)
	v.SetDefault("devices.silence_threshold", 0.0)
	v.SetDefault("devices.silence_timeout", 0.0)
	v.SetDefault("devices.adjust_period", defaultAdjustPeriod)
	v.SetDefault("devices.target_level", 0)
	v.SetDefault("devices.rate_measure_interval", defaultRateMeasureInterval)
}

func applyDefaults(cfg *Config) {
	if cfg.Devices.QueueLimit == 0 {
		cfg.Devices.QueueLimit = defaultQueueLimit
	}
	if cfg.Devices.AdjustPeriod == 0 {
		cfg.Devices.AdjustPeriod = defaultAdjustPeriod
	}
	if cfg.Devices.RateMeasureInterval == 0 {
		cfg.Devices.RateMeasureInterval = defaultRateMeasureInterval
	}
}

const (
	defaultQueueLimit          = 4
	defaultAdjustPeriod        = 10.0
	defaultRateMeasureInterval = 1.0
)

// CaptureSamplerate returns the capture-side rate, falling back to the
// processing rate when no resampling is configured.
func (c *Config) CaptureSamplerate() int {
	if c.Devices.CaptureSamplerate > 0 {
		return c.Devices.CaptureSamplerate
	}
	return c.Devices.Samplerate
}

// UsedCaptureChannels reports which capture channels feed the pipeline. A
// channel is unused only when the first pipeline step is a mixer that never
// sources from it.
func (c *Config) UsedCaptureChannels() []bool {
	used := make([]bool, c.Devices.Capture.Channels)
	for _, step := range c.Pipeline {
		if step.Type != StepMixer {
			break
		}
		mixer, ok := c.Mixers[step.Name]
		if !ok {
			break
		}
		for _, mapping := range mixer.Mapping {
			if mapping.Mute {
				continue
			}
			for _, src := range mapping.Sources {
				if !src.Mute && src.Channel < len(used) {
					used[src.Channel] = true
				}
			}
		}
		return used
	}
	for i := range used {
		used[i] = true
	}
	return used
}

// Step type tags.
const (
	StepMixer     = "Mixer"
	StepFilter    = "Filter"
	StepProcessor = "Processor"
)
