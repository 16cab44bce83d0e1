package statefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/audio"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Load(filepath.Join(t.TempDir(), "missing.yml")))
}

func TestLoadInvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.yml")
	require.NoError(t, os.WriteFile(path, []byte("volume: not-a-list"), 0o644))
	assert.Nil(t, Load(path))
}

func TestSaverRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.yml")
	params := audio.DefaultProcessingParameters()
	params.SetTargetVolume(0, -12.5)
	params.SetMute(2, true)

	saver := NewSaver(path, params)
	saver.SetConfigPath("/etc/flowdsp/config.yml")
	go saver.Run()
	saver.MarkChanged()
	// Stop flushes the pending state.
	time.Sleep(50 * time.Millisecond)
	saver.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	state := Load(path)
	require.NotNil(t, state)
	assert.Equal(t, "/etc/flowdsp/config.yml", state.ConfigPath)
	assert.Equal(t, float32(-12.5), state.Volume[0])
	assert.True(t, state.Mute[2])
	assert.False(t, state.Mute[0])
}
