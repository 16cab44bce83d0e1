package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

func TestRelBoostClipping(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, relBoost(0.0, -20.0))
	assert.InDelta(t, 0.5, relBoost(-30.0, -20.0), 1e-12)
	assert.Equal(t, 1.0, relBoost(-60.0, -20.0))
	assert.Equal(t, 1.0, relBoost(-100.0, -20.0))
}

// At full volume the shelves are inactive and loudness behaves like a
// plain volume.
func TestLoudnessUnityAtReference(t *testing.T) {
	t.Parallel()
	params := audio.DefaultProcessingParameters()
	loud := NewLoudness("loud", conf.FilterParams{
		ReferenceLevel: -20.0,
		HighBoost:      10.0,
		LowBoost:       10.0,
	}, 64, 48000, params)

	wave := make([]float64, 64)
	for i := range wave {
		wave[i] = 0.5
	}
	require.NoError(t, loud.ProcessWaveform(wave))
	assert.InDeltaSlice(t, filled(0.5, 64), wave, 1e-12)
}

// Below the reference level the low shelf boosts low frequencies.
func TestLoudnessBoostsBelowReference(t *testing.T) {
	t.Parallel()
	const samplerate = 48000
	const chunksize = 4800
	params := audio.DefaultProcessingParameters()
	params.SetTargetVolume(0, -40.0)
	params.SetCurrentVolume(0, -40.0)
	loud := NewLoudness("loud", conf.FilterParams{
		ReferenceLevel: -20.0,
		HighBoost:      10.0,
		LowBoost:       10.0,
	}, chunksize, samplerate, params)

	// A 30 Hz tone sits well inside the low shelf.
	tone := sine(30.0, samplerate, 4*chunksize, 0.01)
	reference := append([]float64(nil), tone...)
	for start := 0; start < len(tone); start += chunksize {
		require.NoError(t, loud.ProcessWaveform(tone[start:start+chunksize]))
	}
	outRMS := rms(tone[len(tone)/2:])
	// Plain volume of -40 dB would give this level.
	wantPlain := rms(reference[len(reference)/2:]) * dbToLinear(-40.0)
	// The shelf boost is fully engaged (relative boost 1.0, 10 dB).
	assert.Greater(t, outRMS, wantPlain*dbToLinear(8.0))
}

func filled(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}
