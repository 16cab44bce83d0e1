package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

func pipelineConfig() *conf.Config {
	return &conf.Config{
		Devices: conf.DevicesConfig{
			Samplerate: 48000,
			Chunksize:  64,
			QueueLimit: 4,
			Capture:    conf.DeviceConfig{Type: "File", Channels: 2, Format: "S16LE"},
			Playback:   conf.DeviceConfig{Type: "File", Channels: 2, Format: "S16LE"},
		},
		Filters: map[string]conf.FilterConfig{
			"gain": {Type: "Gain", Parameters: conf.FilterParams{Gain: -6.0}},
		},
		Pipeline: []conf.PipelineStep{
			{Type: conf.StepFilter, Channel: 0, Names: []string{"gain"}},
			{Type: conf.StepFilter, Channel: 1, Names: []string{"gain"}},
		},
	}
}

func TestPipelineBuildAndProcess(t *testing.T) {
	t.Parallel()
	params := audio.DefaultProcessingParameters()
	pipeline, err := NewPipeline(pipelineConfig(), params)
	require.NoError(t, err)

	wf0 := filled(1.0, 64)
	wf1 := filled(-1.0, 64)
	chunk := audio.NewChunk([][]float64{wf0, wf1}, 1.0, -1.0, 64, 64)
	out, err := pipeline.ProcessChunk(chunk)
	require.NoError(t, err)

	gain := dbToLinear(-6.0)
	assert.InDelta(t, gain, out.Waveforms[0][0], 1e-9)
	assert.InDelta(t, -gain, out.Waveforms[1][0], 1e-9)
	// Frame conservation for non-resampling pipelines.
	assert.Equal(t, 64, out.Frames)
	assert.Equal(t, 64, out.ValidFrames)
}

// An empty pipeline passes the chunk through untouched.
func TestPipelineEmpty(t *testing.T) {
	t.Parallel()
	cfg := pipelineConfig()
	cfg.Pipeline = nil
	params := audio.DefaultProcessingParameters()
	pipeline, err := NewPipeline(cfg, params)
	require.NoError(t, err)

	chunk := audio.NewChunk([][]float64{filled(0.25, 64), filled(0.5, 64)}, 0.5, 0.0, 64, 64)
	out, err := pipeline.ProcessChunk(chunk)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, out.Waveforms[0][10], 1e-12)
	assert.InDelta(t, 0.5, out.Waveforms[1][10], 1e-12)
}

// Steps naming the same filter share one instance.
func TestPipelineSharesNamedFilters(t *testing.T) {
	t.Parallel()
	params := audio.DefaultProcessingParameters()
	pipeline, err := NewPipeline(pipelineConfig(), params)
	require.NoError(t, err)
	assert.Len(t, pipeline.filters, 1)
}

// Unused channels stay empty through filter steps.
func TestPipelineSkipsEmptyChannels(t *testing.T) {
	t.Parallel()
	params := audio.DefaultProcessingParameters()
	pipeline, err := NewPipeline(pipelineConfig(), params)
	require.NoError(t, err)

	chunk := audio.NewChunk([][]float64{nil, filled(1.0, 64)}, 1.0, 0.0, 64, 64)
	out, err := pipeline.ProcessChunk(chunk)
	require.NoError(t, err)
	assert.Nil(t, out.Waveforms[0])
	assert.InDelta(t, dbToLinear(-6.0), out.Waveforms[1][0], 1e-9)
}

// A live parameter update changes the gain without rebuilding.
func TestPipelineUpdateParameters(t *testing.T) {
	t.Parallel()
	cfg := pipelineConfig()
	params := audio.DefaultProcessingParameters()
	pipeline, err := NewPipeline(cfg, params)
	require.NoError(t, err)

	newCfg := pipelineConfig()
	newCfg.Filters["gain"] = conf.FilterConfig{Type: "Gain", Parameters: conf.FilterParams{Gain: 0.0}}
	pipeline.UpdateParameters(newCfg, []string{"gain"}, nil, nil)

	chunk := audio.NewChunk([][]float64{filled(1.0, 64), filled(1.0, 64)}, 1.0, 0.0, 64, 64)
	out, err := pipeline.ProcessChunk(chunk)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Waveforms[0][0], 1e-12)
}

// A mixer step changes the channel count mid-pipeline.
func TestPipelineWithMixer(t *testing.T) {
	t.Parallel()
	cfg := pipelineConfig()
	cfg.Devices.Playback.Channels = 1
	cfg.Mixers = map[string]conf.MixerConfig{
		"downmix": {
			Channels: conf.MixerChannelsConfig{In: 2, Out: 1},
			Mapping: []conf.MixerMappingConfig{{
				Dest: 0,
				Sources: []conf.MixerSourceConfig{
					{Channel: 0, Gain: -6.02},
					{Channel: 1, Gain: -6.02},
				},
			}},
		},
	}
	cfg.Pipeline = []conf.PipelineStep{
		{Type: conf.StepMixer, Name: "downmix"},
		{Type: conf.StepFilter, Channel: 0, Names: []string{"gain"}},
	}
	params := audio.DefaultProcessingParameters()
	pipeline, err := NewPipeline(cfg, params)
	require.NoError(t, err)

	chunk := audio.NewChunk([][]float64{filled(1.0, 64), filled(1.0, 64)}, 1.0, 0.0, 64, 64)
	out, err := pipeline.ProcessChunk(chunk)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Channels())
	// Two 0.5 contributions summed, then -6 dB.
	assert.InDelta(t, 1.0*dbToLinear(-6.0), out.Waveforms[0][0], 0.01)
}
