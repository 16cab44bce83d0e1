// Package engine contains the supervisor that owns a processing session:
// the three worker goroutines, the bounded audio channels between them,
// the startup barrier, and the reload/exit state machine.
package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/device"
	"github.com/mvirtane/flowdsp-go/internal/errors"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// ExitState tells the outer loop what to do after a session ends.
type ExitState int

const (
	// ExitRestart means the outer loop should start a new session when a
	// config is available.
	ExitRestart ExitState = iota
	// ExitShutdown means the program should terminate.
	ExitShutdown
)

// Exit request values for the signalExit flag.
const (
	exitNone int32 = iota
	exitShutdown
	exitStop
)

// supervisorTick is the status receive timeout; reload and exit flags are
// checked at least this often.
const supervisorTick = 100 * time.Millisecond

// statusChanCapacity bounds the status channel. Workers drop rather than
// block when the supervisor has already gone away.
const statusChanCapacity = 64

// metering update interval for the status blocks, in milliseconds.
const defaultUpdateInterval = 1000

// SharedConfigs holds the configs visible to the control plane. Each slot
// is guarded by the mutex and only held during reload transitions.
type SharedConfigs struct {
	mu       sync.Mutex
	active   *conf.Config
	previous *conf.Config
	pending  *conf.Config
}

// SetPending stores a config to be picked up by the next reload or
// session start.
func (s *SharedConfigs) SetPending(cfg *conf.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = cfg
}

// HasPending reports whether a config is staged for the next session.
func (s *SharedConfigs) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// TakePending removes and returns the pending config.
func (s *SharedConfigs) TakePending() *conf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.pending
	s.pending = nil
	return cfg
}

// Active returns the config of the running session.
func (s *SharedConfigs) Active() *conf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Previous returns the config of the last stopped session, which the
// control plane uses to resume after a Stop.
func (s *SharedConfigs) Previous() *conf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

func (s *SharedConfigs) setActive(cfg *conf.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = cfg
}

// retire moves the active config to previous at session end.
func (s *SharedConfigs) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.previous = s.active
		s.active = nil
	}
}

// Engine owns the shared state and runs one processing session at a time.
type Engine struct {
	Params           *audio.ProcessingParameters
	ProcessingStatus *audio.ProcessingStatus
	Configs          *SharedConfigs

	// captureStatus and playbackStatus are recreated per session since
	// their channel counts follow the config.
	statusMu       sync.RWMutex
	captureStatus  *audio.CaptureStatus
	playbackStatus *audio.PlaybackStatus

	signalReload atomic.Bool
	signalExit   atomic.Int32

	logger *slog.Logger
}

// New creates an engine with the given initial fader state.
func New(params *audio.ProcessingParameters) *Engine {
	return &Engine{
		Params:           params,
		ProcessingStatus: &audio.ProcessingStatus{},
		Configs:          &SharedConfigs{},
		logger:           logging.ServiceLogger("engine").With("component", "supervisor"),
	}
}

// RequestReload asks the supervisor to pick up the pending config.
func (e *Engine) RequestReload() {
	e.signalReload.Store(true)
}

// RequestExit asks the supervisor to stop the session and shut down.
func (e *Engine) RequestExit() {
	e.signalExit.Store(exitShutdown)
}

// RequestStop asks the supervisor to stop the session but keep running so
// the control plane can start a new one.
func (e *Engine) RequestStop() {
	e.signalExit.Store(exitStop)
}

// CaptureStatus returns the capture status block of the current session,
// or nil between sessions.
func (e *Engine) CaptureStatus() *audio.CaptureStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.captureStatus
}

// PlaybackStatus returns the playback status block of the current session,
// or nil between sessions.
func (e *Engine) PlaybackStatus() *audio.PlaybackStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.playbackStatus
}

func (e *Engine) setStatusBlocks(capture *audio.CaptureStatus, playback *audio.PlaybackStatus) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.captureStatus = capture
	e.playbackStatus = playback
}

// Run executes one session with the pending config: build everything,
// supervise until it ends, and report whether to restart or shut down.
func (e *Engine) Run() (ExitState, error) {
	cfg := e.Configs.TakePending()
	// A reload staged between sessions is consumed by this start.
	e.signalReload.Store(false)
	if cfg == nil {
		return ExitShutdown, errors.Newf("tried to start without a config").
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}

	capToProc := make(chan audio.Message, cfg.Devices.QueueLimit)
	procToPb := make(chan audio.Message, cfg.Devices.QueueLimit)
	status := make(chan device.StatusMessage, statusChanCapacity)
	commands := make(chan device.CommandMessage, 8)
	pipeConfig := make(chan pipeConfigMsg, 2)

	// Four parties: supervisor, capture, playback, process.
	barrier := device.NewBarrier(4)

	captureStatus := audio.NewCaptureStatus(defaultUpdateInterval, cfg.Devices.Capture.Channels)
	playbackStatus := audio.NewPlaybackStatus(defaultUpdateInterval, cfg.Devices.Playback.Channels)
	captureStatus.Lock()
	captureStatus.State = audio.StateStarting
	captureStatus.UsedChannels = cfg.UsedCaptureChannels()
	captureStatus.Unlock()
	e.setStatusBlocks(captureStatus, playbackStatus)
	e.Configs.setActive(cfg)

	e.logger.Debug("using capture channels", "channels", cfg.UsedCaptureChannels())

	// Construct the backends before any worker starts so a bad device
	// type cannot leave workers parked at the barrier.
	playbackDev, err := device.NewPlaybackDevice(cfg)
	if err != nil {
		return ExitShutdown, err
	}
	captureDev, err := device.NewCaptureDevice(cfg)
	if err != nil {
		return ExitShutdown, err
	}

	procDone := runProcessing(cfg, barrier, procToPb, capToProc, pipeConfig, status, e.Params)
	pbDone := playbackDev.Start(procToPb, barrier, status, playbackStatus)
	capDone := captureDev.Start(capToProc, barrier, status, commands, captureStatus)

	return e.supervise(superviseState{
		cfg:        cfg,
		status:     status,
		commands:   commands,
		pipeConfig: pipeConfig,
		barrier:    barrier,
		capDone:    capDone,
		pbDone:     pbDone,
		procDone:   procDone,
	})
}

type superviseState struct {
	cfg        *conf.Config
	status     chan device.StatusMessage
	commands   chan device.CommandMessage
	pipeConfig chan pipeConfigMsg
	barrier    *device.Barrier
	capDone    <-chan struct{}
	pbDone     <-chan struct{}
	procDone   <-chan struct{}
}

// sendExitCommand asks capture to wind down; it may already be gone.
func (e *Engine) sendExitCommand(commands chan device.CommandMessage) {
	select {
	case commands <- device.CommandMessage{Kind: device.CommandExit}:
	default:
		e.logger.Debug("capture worker not accepting commands, likely exited")
	}
}

func waitFor(done <-chan struct{}) {
	if done != nil {
		<-done
	}
}

// supervise runs the status loop of one session. It handles startup
// synchronization, reload and exit requests, rate adjust forwarding, and
// failure propagation, and returns when all workers have stopped.
func (e *Engine) supervise(s superviseState) (ExitState, error) {
	isStarting := true
	pbReady := false
	capReady := false
	activeConfig := s.cfg

	drainAndJoin := func() {
		e.sendExitCommand(s.commands)
		waitFor(s.capDone)
		waitFor(s.pbDone)
		waitFor(s.procDone)
	}

	for {
		if !isStarting && e.signalReload.CompareAndSwap(true, false) {
			e.logger.Debug("reloading configuration")
			if newCfg := e.Configs.TakePending(); newCfg != nil {
				change := conf.Diff(activeConfig, newCfg)
				e.logger.Info("config change detected", "category", change.Kind.String())
				switch change.Kind {
				case conf.ChangeNone:
					// Drop the pending config.
				case conf.ChangeFilterParameters, conf.ChangeMixerParameters, conf.ChangePipeline:
					s.pipeConfig <- pipeConfigMsg{change: change, cfg: newCfg}
					activeConfig = newCfg
					e.Configs.setActive(newCfg)
					cs := e.CaptureStatus()
					cs.Lock()
					cs.UsedChannels = newCfg.UsedCaptureChannels()
					cs.Unlock()
				case conf.ChangeDevices:
					e.logger.Debug("devices changed, restart required")
					drainAndJoin()
					e.Configs.SetPending(newCfg)
					e.Configs.retire()
					return ExitRestart, nil
				}
			} else {
				e.logger.Error("reload requested but no pending config")
			}
		}
		if !isStarting {
			switch e.signalExit.Swap(exitNone) {
			case exitShutdown:
				e.logger.Debug("exit requested")
				drainAndJoin()
				e.Configs.retire()
				return ExitShutdown, nil
			case exitStop:
				e.logger.Debug("stop requested")
				drainAndJoin()
				e.Configs.retire()
				return ExitRestart, nil
			}
		}

		select {
		case msg := <-s.status:
			switch msg.Kind {
			case device.StatusPlaybackReady:
				e.logger.Debug("playback worker ready to start")
				pbReady = true
				if capReady {
					e.logger.Debug("both workers ready, releasing barrier")
					s.barrier.Wait()
					isStarting = false
					e.ProcessingStatus.SetStopReason(audio.StopReason{Kind: audio.StopReasonNone})
				}
			case device.StatusCaptureReady:
				e.logger.Debug("capture worker ready to start")
				capReady = true
				if pbReady {
					e.logger.Debug("both workers ready, releasing barrier")
					s.barrier.Wait()
					isStarting = false
					e.ProcessingStatus.SetStopReason(audio.StopReason{Kind: audio.StopReasonNone})
				}
			case device.StatusPlaybackError:
				e.logger.Error("playback error", "message", msg.Message)
				e.ProcessingStatus.SetStopReason(audio.StopReason{
					Kind: audio.StopReasonPlaybackError, Message: msg.Message})
				if isStarting {
					s.barrier.Wait()
				}
				drainAndJoin()
				e.Configs.retire()
				return ExitRestart, nil
			case device.StatusCaptureError:
				e.logger.Error("capture error", "message", msg.Message)
				e.ProcessingStatus.SetStopReason(audio.StopReason{
					Kind: audio.StopReasonCaptureError, Message: msg.Message})
				if isStarting {
					s.barrier.Wait()
				}
				drainAndJoin()
				e.Configs.retire()
				return ExitRestart, nil
			case device.StatusPlaybackFormatChange:
				e.logger.Error("playback stopped due to external format change", "rate", msg.Rate)
				e.ProcessingStatus.SetStopReason(audio.StopReason{
					Kind: audio.StopReasonPlaybackFormatChange, Rate: msg.Rate})
				if isStarting {
					s.barrier.Wait()
				}
				drainAndJoin()
				e.Configs.retire()
				return ExitRestart, nil
			case device.StatusCaptureFormatChange:
				e.logger.Error("capture stopped due to external format change", "rate", msg.Rate)
				e.ProcessingStatus.SetStopReason(audio.StopReason{
					Kind: audio.StopReasonCaptureFormatChange, Rate: msg.Rate})
				if isStarting {
					s.barrier.Wait()
				}
				drainAndJoin()
				e.Configs.retire()
				return ExitRestart, nil
			case device.StatusPlaybackDone:
				e.logger.Info("playback finished")
				e.ProcessingStatus.SetStopReasonIfNone(audio.StopReason{Kind: audio.StopReasonDone})
				// Normally capture has already finished; the exit command
				// covers the case where processing ended the stream early.
				e.sendExitCommand(s.commands)
				waitFor(s.capDone)
				waitFor(s.procDone)
				e.Configs.retire()
				return ExitRestart, nil
			case device.StatusCaptureDone:
				e.logger.Info("capture finished")
			case device.StatusSetSpeed:
				select {
				case s.commands <- device.CommandMessage{Kind: device.CommandSetSpeed, Speed: msg.Speed}:
				default:
					e.logger.Debug("capture worker not accepting commands, likely exited")
				}
			}
		case <-time.After(supervisorTick):
			if !isStarting && allDone(s.capDone, s.pbDone, s.procDone) {
				// Every worker has exited without a terminal status
				// message reaching us.
				e.logger.Warn("capture, playback and processing workers have all exited")
				e.ProcessingStatus.SetStopReasonIfNone(audio.StopReason{
					Kind:    audio.StopReasonUnknownError,
					Message: "all workers have exited",
				})
				e.Configs.retire()
				return ExitRestart, nil
			}
		}
	}
}

func allDone(channels ...<-chan struct{}) bool {
	for _, ch := range channels {
		select {
		case <-ch:
		default:
			return false
		}
	}
	return true
}
