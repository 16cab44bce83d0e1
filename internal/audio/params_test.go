package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingParametersDefaults(t *testing.T) {
	t.Parallel()
	params := DefaultProcessingParameters()
	for fader := 0; fader < NumFaders; fader++ {
		assert.Equal(t, float32(0.0), params.TargetVolume(fader))
		assert.Equal(t, float32(0.0), params.CurrentVolume(fader))
		assert.False(t, params.IsMute(fader))
	}
	assert.Equal(t, float32(0.0), params.ProcessingLoad())
}

func TestProcessingParametersInitialValues(t *testing.T) {
	t.Parallel()
	volumes := [NumFaders]float32{-10.0, -20.0, 0.0, 5.0, -3.5}
	mutes := [NumFaders]bool{true, false, true, false, false}
	params := NewProcessingParameters(&volumes, &mutes)
	assert.Equal(t, volumes, params.Volumes())
	assert.Equal(t, mutes, params.Mutes())
}

func TestProcessingParametersFadersIndependent(t *testing.T) {
	t.Parallel()
	params := DefaultProcessingParameters()
	params.SetTargetVolume(1, -12.5)
	assert.Equal(t, float32(-12.5), params.TargetVolume(1))
	assert.Equal(t, float32(0.0), params.TargetVolume(0))
}

func TestToggleMute(t *testing.T) {
	t.Parallel()
	params := DefaultProcessingParameters()
	assert.True(t, params.ToggleMute(0))
	assert.True(t, params.IsMute(0))
	assert.False(t, params.ToggleMute(0))
	assert.False(t, params.IsMute(0))
}

// Concurrent writers and readers must not trip the race detector.
func TestProcessingParametersConcurrency(t *testing.T) {
	t.Parallel()
	params := DefaultProcessingParameters()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				params.SetTargetVolume(g%NumFaders, float32(i))
				_ = params.TargetVolume((g + 1) % NumFaders)
				params.ToggleMute(g % NumFaders)
				params.SetProcessingLoad(float32(i) / 1000.0)
			}
		}(g)
	}
	wg.Wait()
}
