package resampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

func feedDC(t *testing.T, r Resampler, channels, chunks int) [][]float64 {
	t.Helper()
	var out [][]float64
	for i := 0; i < chunks; i++ {
		needed := r.InputFramesNext()
		input := make([][]float64, channels)
		for ch := range input {
			wf := make([]float64, needed)
			for n := range wf {
				wf[n] = 1.0
			}
			input[ch] = wf
		}
		result, err := r.Process(input, nil)
		require.NoError(t, err)
		out = result
	}
	return out
}

func TestNewNilConfig(t *testing.T) {
	t.Parallel()
	r, err := New(nil, 2, 48000, 48000, 1024)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNewUnknownType(t *testing.T) {
	t.Parallel()
	_, err := New(&conf.ResamplerConfig{Type: "Magic"}, 2, 48000, 44100, 1024)
	assert.Error(t, err)
}

func TestAsyncSincProducesFullChunks(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "AsyncSinc", Profile: "VeryFast"},
		2, 48000, 44100, 1024)
	require.NoError(t, err)
	assert.True(t, r.IsAsync())

	for i := 0; i < 5; i++ {
		needed := r.InputFramesNext()
		// Roughly chunksize / ratio input frames per chunk.
		if i > 0 {
			assert.InDelta(t, 1024.0*44100.0/48000.0, float64(needed), 64.0)
		}
		input := make([][]float64, 2)
		for ch := range input {
			input[ch] = make([]float64, needed)
		}
		out, err := r.Process(input, nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Len(t, out[0], 1024)
		assert.Len(t, out[1], 1024)
	}
}

// A DC signal must come through at unity gain once the filter is filled.
func TestAsyncSincDCGain(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "AsyncSinc", Profile: "Fast"},
		1, 48000, 44100, 1024)
	require.NoError(t, err)

	out := feedDC(t, r, 1, 4)
	tail := out[0][512:]
	for _, v := range tail {
		assert.InDelta(t, 1.0, v, 0.001)
	}
}

func TestAsyncPolyDCGain(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "AsyncPoly", Interpolation: "Cubic"},
		1, 48000, 44100, 1024)
	require.NoError(t, err)

	out := feedDC(t, r, 1, 4)
	tail := out[0][512:]
	for _, v := range tail {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

// A sine must survive resampling with its frequency scaled by the rate
// ratio, which means equal phase advance per unit time.
func TestAsyncSincSineFidelity(t *testing.T) {
	t.Parallel()
	const (
		captureRate = 44100
		targetRate  = 48000
		chunksize   = 1024
		freq        = 1000.0
	)
	r, err := New(&conf.ResamplerConfig{Type: "AsyncSinc", Profile: "Balanced"},
		1, targetRate, captureRate, chunksize)
	require.NoError(t, err)

	phase := 0.0
	var output []float64
	for i := 0; i < 10; i++ {
		needed := r.InputFramesNext()
		wf := make([]float64, needed)
		for n := range wf {
			wf[n] = 0.5 * math.Sin(phase)
			phase += 2.0 * math.Pi * freq / captureRate
		}
		out, err := r.Process([][]float64{wf}, nil)
		require.NoError(t, err)
		output = append(output, out[0]...)
	}
	// Measure RMS in steady state: a clean sine of amplitude 0.5 has RMS
	// 0.3536.
	steady := output[4*chunksize:]
	sum := 0.0
	for _, v := range steady {
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(steady)))
	assert.InDelta(t, 0.3536, rms, 0.01)
}

func TestAsyncMaskedChannelsSkipped(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "AsyncPoly", Interpolation: "Linear"},
		2, 48000, 44100, 256)
	require.NoError(t, err)

	needed := r.InputFramesNext()
	input := [][]float64{make([]float64, needed), nil}
	out, err := r.Process(input, []bool{true, false})
	require.NoError(t, err)
	assert.Len(t, out[0], 256)
	assert.Nil(t, out[1])
}

func TestAsyncSetRatioRelativeChangesConsumption(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "AsyncPoly", Interpolation: "Cubic"},
		1, 48000, 48000, 4800)
	require.NoError(t, err)

	// Settle into steady state.
	feedDC(t, r, 1, 2)
	baseline := r.InputFramesNext()

	require.NoError(t, r.SetRatioRelative(1.01))
	faster := r.InputFramesNext()
	// Speeding up playback means consuming fewer input frames per chunk.
	assert.Less(t, faster, baseline)

	require.NoError(t, r.SetRatioRelative(0.99))
	slower := r.InputFramesNext()
	assert.Greater(t, slower, baseline)
}

func TestSyncResamplerFixedNeeds(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "Synchronous"}, 2, 48000, 44100, 480)
	require.NoError(t, err)
	assert.False(t, r.IsAsync())

	needed := r.InputFramesNext()
	assert.Positive(t, needed)
	// 44100:48000 reduces to 147:160.
	assert.Zero(t, needed%147)

	input := [][]float64{make([]float64, needed), make([]float64, needed)}
	out, err := r.Process(input, nil)
	require.NoError(t, err)
	assert.Len(t, out[0], 480)
	assert.Len(t, out[1], 480)
}

func TestSyncResamplerDCGain(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "Synchronous"}, 1, 48000, 44100, 480)
	require.NoError(t, err)

	out := feedDC(t, r, 1, 3)
	for _, v := range out[0] {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}

func TestSyncResamplerRefusesRatioAdjust(t *testing.T) {
	t.Parallel()
	r, err := New(&conf.ResamplerConfig{Type: "Synchronous"}, 1, 48000, 44100, 480)
	require.NoError(t, err)
	assert.Error(t, r.SetRatioRelative(1.01))
}
