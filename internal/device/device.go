// Package device implements the audio device contracts and the backends
// shipped with the engine: raw PCM files and pipes, a signal generator,
// and soundcards through malgo. Each device runs its worker loop in a
// goroutine that reports back on the status channel.
package device

import (
	"strings"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// StatusKind tags messages from the workers to the supervisor.
type StatusKind int

const (
	StatusPlaybackReady StatusKind = iota
	StatusCaptureReady
	StatusPlaybackError
	StatusCaptureError
	StatusPlaybackFormatChange
	StatusCaptureFormatChange
	StatusPlaybackDone
	StatusCaptureDone
	StatusSetSpeed
)

// StatusMessage is sent by capture and playback workers to the supervisor.
type StatusMessage struct {
	Kind    StatusKind
	Message string
	Rate    int
	Speed   float64
}

// CommandKind tags supervisor-to-capture commands.
type CommandKind int

const (
	// CommandExit asks capture to drain and send EndOfStream.
	CommandExit CommandKind = iota
	// CommandSetSpeed relays a rate adjustment to the resampler.
	CommandSetSpeed
)

// CommandMessage is sent from the supervisor to the capture worker.
type CommandMessage struct {
	Kind  CommandKind
	Speed float64
}

// CaptureDevice starts a capture worker. The worker opens its device,
// sends CaptureReady, waits on the barrier, and then produces audio
// messages until end of stream, an error, or an Exit command.
type CaptureDevice interface {
	Start(audioOut chan<- audio.Message, barrier *Barrier, status chan<- StatusMessage,
		commands <-chan CommandMessage, captureStatus *audio.CaptureStatus) <-chan struct{}
}

// PlaybackDevice starts a playback worker. The worker opens its device,
// sends PlaybackReady, waits on the barrier, and then consumes audio
// messages until end of stream or an error.
type PlaybackDevice interface {
	Start(audioIn <-chan audio.Message, barrier *Barrier, status chan<- StatusMessage,
		playbackStatus *audio.PlaybackStatus) <-chan struct{}
}

// sendStatus delivers a status message without blocking forever; the
// supervisor may already be gone on teardown paths.
func sendStatus(status chan<- StatusMessage, msg StatusMessage) {
	select {
	case status <- msg:
	default:
	}
}

// SupportedCaptureTypes lists the capture backends compiled in.
func SupportedCaptureTypes() []string {
	return []string{"File", "Stdin", "Generator", "Soundcard"}
}

// SupportedPlaybackTypes lists the playback backends compiled in.
func SupportedPlaybackTypes() []string {
	return []string{"File", "Stdout", "Soundcard"}
}

// NewCaptureDevice creates the configured capture backend.
func NewCaptureDevice(cfg *conf.Config) (CaptureDevice, error) {
	switch strings.ToLower(cfg.Devices.Capture.Type) {
	case "file", "stdin":
		return newFileCaptureDevice(cfg)
	case "generator":
		return newGeneratorCaptureDevice(cfg)
	case "soundcard":
		return newSoundcardCaptureDevice(cfg)
	default:
		return nil, errors.Newf("unknown capture device type %q", cfg.Devices.Capture.Type).
			Component("device").
			Category(errors.CategoryValidation).
			Build()
	}
}

// NewPlaybackDevice creates the configured playback backend.
func NewPlaybackDevice(cfg *conf.Config) (PlaybackDevice, error) {
	switch strings.ToLower(cfg.Devices.Playback.Type) {
	case "file", "stdout":
		return newFilePlaybackDevice(cfg)
	case "soundcard":
		return newSoundcardPlaybackDevice(cfg)
	default:
		return nil, errors.Newf("unknown playback device type %q", cfg.Devices.Playback.Type).
			Component("device").
			Category(errors.CategoryValidation).
			Build()
	}
}
