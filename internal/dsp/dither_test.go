package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

var ditherInput = []float64{-1.0, -0.5, -1.0 / 3.0, 0.0, 1.0 / 3.0, 0.5, 1.0}

// assertQuantized checks that every output value times the scale factor is
// an integer.
func assertQuantized(t *testing.T, wave []float64, bits int) {
	t.Helper()
	scale := math.Pow(2, float64(bits-1))
	for _, v := range wave {
		scaled := v * scale
		assert.InDelta(t, math.Round(scaled), scaled, 1e-9)
	}
}

func TestDitherNone(t *testing.T) {
	t.Parallel()
	wave := append([]float64(nil), ditherInput...)
	dith := NewDither("test", conf.FilterParams{Type: "None", Bits: 8})
	require.NoError(t, dith.ProcessWaveform(wave))
	assert.InDeltaSlice(t, ditherInput, wave, 1.0/128.0)
	assertQuantized(t, wave, 8)
}

func TestDitherUniform(t *testing.T) {
	t.Parallel()
	wave := append([]float64(nil), ditherInput...)
	dith := NewDither("test", conf.FilterParams{Type: "Uniform", Bits: 8, Amplitude: 1.0})
	require.NoError(t, dith.ProcessWaveform(wave))
	assert.InDeltaSlice(t, ditherInput, wave, 1.0/64.0)
	assertQuantized(t, wave, 8)
}

func TestDitherSimple(t *testing.T) {
	t.Parallel()
	wave := append([]float64(nil), ditherInput...)
	dith := NewDither("test", conf.FilterParams{Type: "Simple", Bits: 8})
	require.NoError(t, dith.ProcessWaveform(wave))
	assert.InDeltaSlice(t, ditherInput, wave, 1.0/32.0)
	assertQuantized(t, wave, 8)
}

func TestDitherLipshitz(t *testing.T) {
	t.Parallel()
	wave := append([]float64(nil), ditherInput...)
	dith := NewDither("test", conf.FilterParams{Type: "Lipshitz441", Bits: 8})
	require.NoError(t, dith.ProcessWaveform(wave))
	assert.InDeltaSlice(t, ditherInput, wave, 1.0/16.0)
	assertQuantized(t, wave, 8)
}

func TestDitherShibataQuantizes(t *testing.T) {
	t.Parallel()
	wave := make([]float64, 256)
	for i := range wave {
		wave[i] = 0.25 * math.Sin(float64(i)/10.0)
	}
	dith := NewDither("test", conf.FilterParams{Type: "Shibata441", Bits: 16})
	require.NoError(t, dith.ProcessWaveform(wave))
	assertQuantized(t, wave, 16)
}
