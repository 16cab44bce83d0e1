package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/engine"
)

const controlTestConfig = `
devices:
  samplerate: 48000
  chunksize: 1024
  queuelimit: 4
  capture:
    type: File
    filename: /tmp/in.raw
    channels: 2
    format: S16LE
  playback:
    type: File
    filename: /tmp/out.raw
    channels: 2
    format: S16LE
`

func newTestServer() *Server {
	eng := engine.New(audio.DefaultProcessingParameters())
	return NewServer(eng, nil)
}

func dispatch(s *Server, cmd command) reply {
	return s.dispatch(&cmd, s.logger)
}

func TestGetStateInactive(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "GetState"})
	assert.Equal(t, "Ok", resp.Result)
	assert.Equal(t, "INACTIVE", resp.Value)
}

func TestVolumeCommands(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	resp := dispatch(s, command{Command: "SetVolume", Value: -12.0})
	assert.Equal(t, "Ok", resp.Result)

	resp = dispatch(s, command{Command: "GetVolume"})
	assert.Equal(t, "Ok", resp.Result)
	assert.Equal(t, float32(-12.0), resp.Value)

	resp = dispatch(s, command{Command: "AdjustVolume", Value: -3.0})
	assert.Equal(t, "Ok", resp.Result)
	assert.Equal(t, float32(-15.0), resp.Value)
}

func TestFaderIndexValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "GetVolume", Fader: 7})
	assert.Equal(t, "Error", resp.Result)
	resp = dispatch(s, command{Command: "SetVolume", Fader: audio.NumFaders, Value: 0.0})
	assert.Equal(t, "Error", resp.Result)
}

func TestMuteCommands(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	resp := dispatch(s, command{Command: "ToggleMute", Fader: 1})
	assert.Equal(t, "Ok", resp.Result)
	assert.Equal(t, true, resp.Value)

	resp = dispatch(s, command{Command: "GetMute", Fader: 1})
	assert.Equal(t, true, resp.Value)

	resp = dispatch(s, command{Command: "SetMute", Fader: 1, Value: 0})
	assert.Equal(t, "Ok", resp.Result)
	resp = dispatch(s, command{Command: "GetMute", Fader: 1})
	assert.Equal(t, false, resp.Value)
}

func TestSetConfigStagesPendingAndReload(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "SetConfig", Config: controlTestConfig})
	require.Equal(t, "Ok", resp.Result, resp.Error)
	assert.True(t, s.engine.Configs.HasPending())

	// The wake channel carries a token for the outer loop.
	select {
	case <-s.Wake:
	default:
		t.Fatal("expected a wake token")
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "SetConfig", Config: "devices: {samplerate: -1}"})
	assert.Equal(t, "Error", resp.Result)
	assert.False(t, s.engine.Configs.HasPending())
}

func TestGetConfigWithoutConfig(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "GetConfig"})
	assert.Equal(t, "Error", resp.Result)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "MakeCoffee"})
	assert.Equal(t, "Error", resp.Result)
}

func TestExitCommandSignals(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "Exit"})
	assert.Equal(t, "Ok", resp.Result)
	select {
	case <-s.ExitRequested():
	default:
		t.Fatal("exit was not signalled")
	}
	// A second exit must not panic on the closed channel.
	resp = dispatch(s, command{Command: "Exit"})
	assert.Equal(t, "Ok", resp.Result)
}

func TestGetSupportedDeviceTypes(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	resp := dispatch(s, command{Command: "GetSupportedDeviceTypes"})
	assert.Equal(t, "Ok", resp.Result)
	types, ok := resp.Value.(map[string][]string)
	require.True(t, ok)
	assert.Contains(t, types["capture"], "File")
	assert.Contains(t, types["playback"], "Soundcard")
}
