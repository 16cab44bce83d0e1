package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

func raceParams() conf.ProcessorParams {
	return conf.ProcessorParams{
		Channels:    2,
		ChannelA:    0,
		ChannelB:    1,
		Attenuation: 3.0,
		Delay:       4,
		DelayUnit:   "samples",
	}
}

// An impulse on channel A must appear inverted and attenuated on channel B
// after the configured delay (minus the one-sample recursion compensation).
func TestRACECrossFeedback(t *testing.T) {
	t.Parallel()
	const length = 32
	race := NewRACE("race", raceParams(), 48000)

	chA := make([]float64, length)
	chB := make([]float64, length)
	chA[0] = 1.0
	chunk := audio.NewChunk([][]float64{chA, chB}, 1.0, 0.0, length, length)
	require.NoError(t, race.ProcessChunk(chunk))

	// Direct signal passes.
	assert.InDelta(t, 1.0, chunk.Waveforms[0][0], 1e-12)
	// Cross-feed arrives on the other channel after delay 3 (4 samples
	// minus compensation) plus the one-sample recursion, inverted and
	// attenuated by 3 dB.
	expected := -math.Pow(10.0, -3.0/20.0)
	assert.InDelta(t, expected, chunk.Waveforms[1][4], 1e-9)
	// Nothing before the cross-feed arrives.
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 0.0, chunk.Waveforms[1][i], 1e-12, "sample %d", i)
	}
	// The second bounce returns to channel A, re-inverted.
	second := math.Pow(10.0, -6.0/20.0)
	assert.InDelta(t, second, chunk.Waveforms[0][8], 1e-9)
}

func TestRACESkipsEmptyChannels(t *testing.T) {
	t.Parallel()
	race := NewRACE("race", raceParams(), 48000)
	chA := []float64{1.0, 0.0}
	chunk := audio.NewChunk([][]float64{chA, nil}, 1.0, 0.0, 2, 2)
	require.NoError(t, race.ProcessChunk(chunk))
	assert.Equal(t, []float64{1.0, 0.0}, chunk.Waveforms[0])
	assert.Nil(t, chunk.Waveforms[1])
}
