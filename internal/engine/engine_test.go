package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// writeSineFile writes an interleaved stereo S16LE sine to a temp file and
// returns its path.
func writeSineFile(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.raw")
	buf := make([]byte, frames*2*2)
	for n := 0; n < frames; n++ {
		// A ramp keeps the signal above any silence threshold.
		v := int16((n % 1000) * 16)
		binary.LittleEndian.PutUint16(buf[n*4:], uint16(v))
		binary.LittleEndian.PutUint16(buf[n*4+2:], uint16(v))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func fileSessionConfig(t *testing.T, inputPath string) *conf.Config {
	t.Helper()
	return &conf.Config{
		Devices: conf.DevicesConfig{
			Samplerate: 48000,
			Chunksize:  1024,
			QueueLimit: 4,
			Capture: conf.DeviceConfig{
				Type:     "File",
				Filename: inputPath,
				Channels: 2,
				Format:   "S16LE",
			},
			Playback: conf.DeviceConfig{
				Type:     "File",
				Filename: filepath.Join(t.TempDir(), "output.raw"),
				Channels: 2,
				Format:   "S16LE",
			},
		},
	}
}

// A full identity session: file in, empty pipeline, file out. The output
// must be bit identical to the input and the session must end cleanly.
func TestEngineIdentitySession(t *testing.T) {
	defer goleak.VerifyNone(t)

	const frames = 8 * 1024
	inputPath := writeSineFile(t, frames)
	cfg := fileSessionConfig(t, inputPath)
	require.NoError(t, cfg.Validate())
	outputPath := cfg.Devices.Playback.Filename

	eng := New(audio.DefaultProcessingParameters())
	eng.Configs.SetPending(cfg)

	state, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, ExitRestart, state)
	assert.Equal(t, audio.StopReasonDone, eng.ProcessingStatus.StopReason().Kind)

	input, err := os.ReadFile(inputPath)
	require.NoError(t, err)
	output, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, input, output)

	// The session retired its config.
	assert.Nil(t, eng.Configs.Active())
	assert.NotNil(t, eng.Configs.Previous())
}

// A gain filter in the pipeline must show up in the output amplitude.
func TestEngineGainSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	const frames = 4 * 1024
	inputPath := writeSineFile(t, frames)
	cfg := fileSessionConfig(t, inputPath)
	cfg.Filters = map[string]conf.FilterConfig{
		"attenuate": {Type: "Gain", Parameters: conf.FilterParams{Gain: -6.0206}},
	}
	cfg.Pipeline = []conf.PipelineStep{
		{Type: conf.StepFilter, Channel: 0, Names: []string{"attenuate"}},
		{Type: conf.StepFilter, Channel: 1, Names: []string{"attenuate"}},
	}
	require.NoError(t, cfg.Validate())
	outputPath := cfg.Devices.Playback.Filename

	eng := New(audio.DefaultProcessingParameters())
	eng.Configs.SetPending(cfg)
	state, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, ExitRestart, state)

	input, err := os.ReadFile(inputPath)
	require.NoError(t, err)
	output, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, len(input), len(output))

	// Every sample halves (within rounding).
	for n := 0; n < frames; n++ {
		in := int16(binary.LittleEndian.Uint16(input[n*4:]))
		out := int16(binary.LittleEndian.Uint16(output[n*4:]))
		assert.InDelta(t, float64(in)/2.0, float64(out), 1.0, "frame %d", n)
	}
}

// A missing capture file must end the session with a capture error and no
// leaked workers.
func TestEngineCaptureOpenError(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fileSessionConfig(t, filepath.Join(t.TempDir(), "does-not-exist.raw"))
	require.NoError(t, cfg.Validate())

	eng := New(audio.DefaultProcessingParameters())
	eng.Configs.SetPending(cfg)
	state, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, ExitRestart, state)
	assert.Equal(t, audio.StopReasonCaptureError, eng.ProcessingStatus.StopReason().Kind)
}

// Running without a pending config is a programming error surfaced as a
// shutdown.
func TestEngineRunWithoutConfig(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := New(audio.DefaultProcessingParameters())
	state, err := eng.Run()
	assert.Error(t, err)
	assert.Equal(t, ExitShutdown, state)
}

// A live reload that only touches filter parameters must not restart the
// session.
func TestEngineReloadFilterParameters(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := generatorSessionConfig(t)
	require.NoError(t, cfg.Validate())

	eng := New(audio.DefaultProcessingParameters())
	eng.Configs.SetPending(cfg)

	result := make(chan ExitState, 1)
	go func() {
		state, _ := eng.Run()
		result <- state
	}()

	waitForState(t, eng, audio.StateRunning)

	// Stage a gain change and reload.
	newCfg := generatorSessionConfig(t)
	newCfg.Devices = cfg.Devices
	changed := newCfg.Filters["gain"]
	changed.Parameters.Gain = -6.0
	newCfg.Filters["gain"] = changed
	eng.Configs.SetPending(newCfg)
	eng.RequestReload()

	// The active config follows without a restart.
	require.Eventually(t, func() bool {
		active := eng.Configs.Active()
		return active != nil && active.Filters["gain"].Parameters.Gain == -6.0
	}, 5*time.Second, 20*time.Millisecond)

	eng.RequestExit()
	select {
	case state := <-result:
		assert.Equal(t, ExitShutdown, state)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not exit")
	}
}

// A stop request ends the session but keeps the config available for a
// resume.
func TestEngineStopKeepsPreviousConfig(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := generatorSessionConfig(t)
	require.NoError(t, cfg.Validate())

	eng := New(audio.DefaultProcessingParameters())
	eng.Configs.SetPending(cfg)

	result := make(chan ExitState, 1)
	go func() {
		state, _ := eng.Run()
		result <- state
	}()
	waitForState(t, eng, audio.StateRunning)

	eng.RequestStop()
	select {
	case state := <-result:
		assert.Equal(t, ExitRestart, state)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.NotNil(t, eng.Configs.Previous())
}

func generatorSessionConfig(t *testing.T) *conf.Config {
	t.Helper()
	return &conf.Config{
		Devices: conf.DevicesConfig{
			Samplerate: 48000,
			Chunksize:  2400,
			QueueLimit: 2,
			Capture: conf.DeviceConfig{
				Type:      "Generator",
				Channels:  2,
				Format:    "S16LE",
				Signal:    "sine",
				Frequency: 440.0,
				Level:     -6.0,
			},
			Playback: conf.DeviceConfig{
				Type:     "File",
				Filename: filepath.Join(t.TempDir(), "output.raw"),
				Channels: 2,
				Format:   "S16LE",
			},
		},
		Filters: map[string]conf.FilterConfig{
			"gain": {Type: "Gain", Parameters: conf.FilterParams{Gain: 0.0}},
		},
		Pipeline: []conf.PipelineStep{
			{Type: conf.StepFilter, Channel: 0, Names: []string{"gain"}},
			{Type: conf.StepFilter, Channel: 1, Names: []string{"gain"}},
		},
	}
}

func waitForState(t *testing.T, eng *Engine, want audio.ProcessingState) {
	t.Helper()
	require.Eventually(t, func() bool {
		cs := eng.CaptureStatus()
		if cs == nil {
			return false
		}
		cs.RLock()
		defer cs.RUnlock()
		return cs.State == want
	}, 10*time.Second, 20*time.Millisecond)
}
