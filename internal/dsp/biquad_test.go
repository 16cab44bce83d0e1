package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// sine fills a slice with a sine of the given frequency.
func sine(freq float64, samplerate, length int, amplitude float64) []float64 {
	out := make([]float64, length)
	for n := range out {
		out[n] = amplitude * math.Sin(2.0*math.Pi*freq*float64(n)/float64(samplerate))
	}
	return out
}

func rms(wf []float64) float64 {
	sum := 0.0
	for _, v := range wf {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(wf)))
}

func TestBiquadFreeCoefficients(t *testing.T) {
	t.Parallel()
	coeffs := CoefficientsFromConfig(48000, conf.FilterParams{
		Type: "Free", A1: 0.1, A2: 0.2, B0: 0.3, B1: 0.4, B2: 0.5,
	})
	assert.Equal(t, BiquadCoefficients{A1: 0.1, A2: 0.2, B0: 0.3, B1: 0.4, B2: 0.5}, coeffs)
}

// A 500 Hz lowpass must pass 200 Hz nearly untouched and attenuate 5 kHz
// by roughly 40 dB.
func TestBiquadLowpassAttenuation(t *testing.T) {
	t.Parallel()
	const samplerate = 48000
	const length = 4 * samplerate
	params := conf.FilterParams{Type: "Lowpass", Freq: 500.0, Q: 0.707}

	low := sine(200.0, samplerate, length, 0.1)
	bq := NewBiquadFromConfig("lp", samplerate, params)
	require.NoError(t, bq.ProcessWaveform(low))
	// Skip the transient, measure steady state.
	lowGainDB := 20.0 * math.Log10(rms(low[length/2:])/rms(sine(200.0, samplerate, length, 0.1)[length/2:]))
	assert.InDelta(t, 0.0, lowGainDB, 0.5)

	high := sine(5000.0, samplerate, length, 0.1)
	bq2 := NewBiquadFromConfig("lp", samplerate, params)
	require.NoError(t, bq2.ProcessWaveform(high))
	highGainDB := 20.0 * math.Log10(rms(high[length/2:])/rms(sine(5000.0, samplerate, length, 0.1)[length/2:]))
	assert.Less(t, highGainDB, -35.0)
	assert.Greater(t, highGainDB, -45.0)
}

func TestBiquadHighpassBlocksDC(t *testing.T) {
	t.Parallel()
	bq := NewBiquadFromConfig("hp", 48000, conf.FilterParams{Type: "Highpass", Freq: 1000.0, Q: 0.707})
	dc := make([]float64, 48000)
	for i := range dc {
		dc[i] = 1.0
	}
	require.NoError(t, bq.ProcessWaveform(dc))
	assert.InDelta(t, 0.0, dc[len(dc)-1], 1e-6)
}

// For every valid config the impulse response must decay.
func TestBiquadStability(t *testing.T) {
	t.Parallel()
	configs := []conf.FilterParams{
		{Type: "Lowpass", Freq: 500.0, Q: 0.707},
		{Type: "Highpass", Freq: 500.0, Q: 0.707},
		{Type: "Peaking", Freq: 1000.0, Q: 2.0, Gain: 6.0},
		{Type: "Highshelf", Freq: 3500.0, Slope: 12.0, Gain: 6.0},
		{Type: "Lowshelf", Freq: 70.0, Slope: 12.0, Gain: 6.0},
		{Type: "LowpassFO", Freq: 500.0},
		{Type: "HighpassFO", Freq: 500.0},
	}
	for _, params := range configs {
		bq := NewBiquadFromConfig(params.Type, 48000, params)
		impulse := make([]float64, 48000)
		impulse[0] = 1.0
		require.NoError(t, bq.ProcessWaveform(impulse))
		tail := impulse[len(impulse)-1000:]
		for _, v := range tail {
			assert.Less(t, math.Abs(v), 1e-6, "impulse response of %s must decay", params.Type)
		}
	}
}

func TestBiquadPeakingBoostsAtCenter(t *testing.T) {
	t.Parallel()
	const samplerate = 48000
	const length = 2 * samplerate
	bq := NewBiquadFromConfig("peak", samplerate, conf.FilterParams{
		Type: "Peaking", Freq: 1000.0, Q: 1.0, Gain: 6.0,
	})
	tone := sine(1000.0, samplerate, length, 0.1)
	require.NoError(t, bq.ProcessWaveform(tone))
	gainDB := 20.0 * math.Log10(rms(tone[length/2:])/rms(sine(1000.0, samplerate, length, 0.1)[length/2:]))
	assert.InDelta(t, 6.0, gainDB, 0.5)
}

func TestBiquadUpdateParameters(t *testing.T) {
	t.Parallel()
	bq := NewBiquadFromConfig("lp", 48000, conf.FilterParams{Type: "Lowpass", Freq: 500.0, Q: 0.707})
	bq.UpdateParameters(conf.FilterConfig{
		Type:       "Biquad",
		Parameters: conf.FilterParams{Type: "Free", A1: 0, A2: 0, B0: 2.0, B1: 0, B2: 0},
	})
	wf := []float64{1.0, 0.5}
	require.NoError(t, bq.ProcessWaveform(wf))
	assert.InDeltaSlice(t, []float64{2.0, 1.0}, wf, 1e-12)
}

func TestBiquadUpdateWrongTypePanics(t *testing.T) {
	t.Parallel()
	bq := NewBiquadFromConfig("lp", 48000, conf.FilterParams{Type: "Lowpass", Freq: 500.0, Q: 0.707})
	assert.Panics(t, func() {
		bq.UpdateParameters(conf.FilterConfig{Type: "Gain"})
	})
}
