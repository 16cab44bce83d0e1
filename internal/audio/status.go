package audio

import (
	"fmt"
	"sync"

	"github.com/mvirtane/flowdsp-go/internal/countertimer"
)

// ProcessingState describes what the engine is doing with the signal.
type ProcessingState int

const (
	// StateRunning means processing is running normally.
	StateRunning ProcessingState = iota
	// StatePaused means the input is silent and processing is gated off.
	StatePaused
	// StateInactive means devices are closed, waiting for a new config.
	StateInactive
	// StateStarting means devices are opening.
	StateStarting
	// StateStalled means the capture device stopped delivering data but is
	// expected to resume.
	StateStalled
)

func (s ProcessingState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateInactive:
		return "INACTIVE"
	case StateStarting:
		return "STARTING"
	case StateStalled:
		return "STALLED"
	default:
		return "UNKNOWN"
	}
}

// CaptureStatus is written by the capture worker and read by the control
// plane.
type CaptureStatus struct {
	mu sync.RWMutex

	UpdateInterval     int // milliseconds
	MeasuredSamplerate int
	SignalRange        float64
	RateAdjust         float64
	State              ProcessingState
	UsedChannels       []bool
	SignalRMS          *countertimer.ValueHistory
	SignalPeak         *countertimer.ValueHistory
}

// NewCaptureStatus creates a capture status block with the given metering
// update interval in milliseconds.
func NewCaptureStatus(updateInterval, channels int) *CaptureStatus {
	return &CaptureStatus{
		UpdateInterval: updateInterval,
		State:          StateInactive,
		UsedChannels:   make([]bool, channels),
		SignalRMS:      countertimer.NewValueHistory(channels),
		SignalPeak:     countertimer.NewValueHistory(channels),
	}
}

// Lock and friends expose the single-writer locking discipline: the capture
// worker takes the write lock, everyone else reads.
func (s *CaptureStatus) Lock()    { s.mu.Lock() }
func (s *CaptureStatus) Unlock()  { s.mu.Unlock() }
func (s *CaptureStatus) RLock()   { s.mu.RLock() }
func (s *CaptureStatus) RUnlock() { s.mu.RUnlock() }

// PlaybackStatus is written by the playback worker.
type PlaybackStatus struct {
	mu sync.RWMutex

	UpdateInterval int // milliseconds
	ClippedSamples int
	BufferLevel    int
	SignalRMS      *countertimer.ValueHistory
	SignalPeak     *countertimer.ValueHistory
}

// NewPlaybackStatus creates a playback status block.
func NewPlaybackStatus(updateInterval, channels int) *PlaybackStatus {
	return &PlaybackStatus{
		UpdateInterval: updateInterval,
		SignalRMS:      countertimer.NewValueHistory(channels),
		SignalPeak:     countertimer.NewValueHistory(channels),
	}
}

func (s *PlaybackStatus) Lock()    { s.mu.Lock() }
func (s *PlaybackStatus) Unlock()  { s.mu.Unlock() }
func (s *PlaybackStatus) RLock()   { s.mu.RLock() }
func (s *PlaybackStatus) RUnlock() { s.mu.RUnlock() }

// StopReasonKind classifies why a processing session ended.
type StopReasonKind int

const (
	StopReasonNone StopReasonKind = iota
	StopReasonDone
	StopReasonCaptureError
	StopReasonPlaybackError
	StopReasonUnknownError
	StopReasonCaptureFormatChange
	StopReasonPlaybackFormatChange
)

// StopReason records why the last session stopped, with the error message
// or new sample rate where applicable.
type StopReason struct {
	Kind    StopReasonKind
	Message string
	Rate    int
}

func (r StopReason) String() string {
	switch r.Kind {
	case StopReasonNone:
		return "NONE"
	case StopReasonDone:
		return "DONE"
	case StopReasonCaptureError:
		return fmt.Sprintf("CAPTUREERROR: %s", r.Message)
	case StopReasonPlaybackError:
		return fmt.Sprintf("PLAYBACKERROR: %s", r.Message)
	case StopReasonUnknownError:
		return fmt.Sprintf("UNKNOWNERROR: %s", r.Message)
	case StopReasonCaptureFormatChange:
		return fmt.Sprintf("CAPTUREFORMATCHANGE: %d", r.Rate)
	case StopReasonPlaybackFormatChange:
		return fmt.Sprintf("PLAYBACKFORMATCHANGE: %d", r.Rate)
	default:
		return "UNKNOWN"
	}
}

// ProcessingStatus holds the stop reason behind a lock shared between the
// supervisor (writer) and the control plane (reader).
type ProcessingStatus struct {
	mu         sync.RWMutex
	stopReason StopReason
}

// SetStopReason records a stop reason.
func (s *ProcessingStatus) SetStopReason(r StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReason = r
}

// SetStopReasonIfNone records r only when no reason is set, used on the
// clean end-of-stream path which must not overwrite an earlier error.
func (s *ProcessingStatus) SetStopReasonIfNone(r StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopReason.Kind == StopReasonNone {
		s.stopReason = r
	}
}

// StopReason returns the recorded stop reason.
func (s *ProcessingStatus) StopReason() StopReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopReason
}
