// Package control implements the control plane: a WebSocket command
// endpoint, a REST status snapshot, and the prometheus scrape endpoint.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/buildinfo"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/device"
	"github.com/mvirtane/flowdsp-go/internal/engine"
	"github.com/mvirtane/flowdsp-go/internal/logging"
	"github.com/mvirtane/flowdsp-go/internal/observability"
	"github.com/mvirtane/flowdsp-go/internal/statefile"
)

// Server is the control plane HTTP/WebSocket server.
type Server struct {
	engine *engine.Engine
	saver  *statefile.Saver
	echo   *echo.Echo
	logger *slog.Logger

	// Wake is signalled whenever a command changes something the outer
	// run loop waits on (new config, stop, exit).
	Wake chan struct{}
	// ExitRequested is closed when an Exit command arrives.
	exitRequested chan struct{}
}

// NewServer creates the control server. saver may be nil when no statefile
// is configured.
func NewServer(eng *engine.Engine, saver *statefile.Saver) *Server {
	s := &Server{
		engine:        eng,
		saver:         saver,
		Wake:          make(chan struct{}, 1),
		exitRequested: make(chan struct{}),
		logger:        logging.ServiceLogger("control"),
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := observability.NewMetrics(eng)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/api/status", s.handleStatus)
	e.GET("/ws", s.handleWebsocket)
	s.echo = e
	return s
}

// ExitRequested reports whether a client asked the whole program to exit.
func (s *Server) ExitRequested() <-chan struct{} {
	return s.exitRequested
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) wake() {
	select {
	case s.Wake <- struct{}{}:
	default:
	}
}

// statusSnapshot is the REST status document.
type statusSnapshot struct {
	State          string    `json:"state"`
	StopReason     string    `json:"stop_reason"`
	Volume         []float32 `json:"volume"`
	Mute           []bool    `json:"mute"`
	CaptureRate    int       `json:"capture_rate"`
	RateAdjust     float64   `json:"rate_adjust"`
	SignalRange    float64   `json:"signal_range"`
	BufferLevel    int       `json:"buffer_level"`
	ClippedSamples int       `json:"clipped_samples"`
	ProcessingLoad float32   `json:"processing_load"`
	Version        string    `json:"version"`
}

func (s *Server) snapshot() statusSnapshot {
	snap := statusSnapshot{
		State:          audio.StateInactive.String(),
		StopReason:     s.engine.ProcessingStatus.StopReason().String(),
		ProcessingLoad: s.engine.Params.ProcessingLoad(),
		Version:        buildinfo.Current().GetVersion(),
	}
	volumes := s.engine.Params.Volumes()
	mutes := s.engine.Params.Mutes()
	snap.Volume = volumes[:]
	snap.Mute = mutes[:]
	if cs := s.engine.CaptureStatus(); cs != nil {
		cs.RLock()
		snap.State = cs.State.String()
		snap.CaptureRate = cs.MeasuredSamplerate
		snap.RateAdjust = cs.RateAdjust
		snap.SignalRange = cs.SignalRange
		cs.RUnlock()
	}
	if ps := s.engine.PlaybackStatus(); ps != nil {
		ps.RLock()
		snap.BufferLevel = ps.BufferLevel
		snap.ClippedSamples = ps.ClippedSamples
		ps.RUnlock()
	}
	return snap
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.snapshot())
}

var upgrader = websocket.Upgrader{
	// The control socket is meant for local clients; origin checking is
	// left to a fronting proxy when exposed further.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// command is one WebSocket request. Fader selects one of the five faders
// where applicable; the zero value is the main fader.
type command struct {
	Command string  `json:"command"`
	Fader   int     `json:"fader"`
	Value   float64 `json:"value"`
	Config  string  `json:"config"`
	Path    string  `json:"path"`
}

// reply is the response to one command.
type reply struct {
	Command string `json:"command"`
	Result  string `json:"result"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

func okReply(cmd string, value any) reply {
	return reply{Command: cmd, Result: "Ok", Value: value}
}

func errReply(cmd string, err error) reply {
	return reply{Command: cmd, Result: "Error", Error: err.Error()}
}

func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	clientID := uuid.NewString()
	logger := s.logger.With("client_id", clientID)
	logger.Debug("control client connected", "remote", conn.RemoteAddr().String())

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			logger.Debug("control client disconnected", "error", err)
			return nil
		}
		resp := s.dispatch(&cmd, logger)
		if err := conn.WriteJSON(resp); err != nil {
			logger.Debug("failed to write control reply", "error", err)
			return nil
		}
	}
}

func validFader(fader int) error {
	if fader < 0 || fader >= audio.NumFaders {
		return fmt.Errorf("fader index %d out of range", fader)
	}
	return nil
}

func (s *Server) dispatch(cmd *command, logger *slog.Logger) reply {
	params := s.engine.Params
	switch cmd.Command {
	case "GetState":
		return okReply(cmd.Command, s.snapshot().State)
	case "GetVersion":
		return okReply(cmd.Command, buildinfo.Current().GetVersion())
	case "GetStopReason":
		return okReply(cmd.Command, s.engine.ProcessingStatus.StopReason().String())
	case "GetStatus":
		return okReply(cmd.Command, s.snapshot())

	case "GetVolume":
		if err := validFader(cmd.Fader); err != nil {
			return errReply(cmd.Command, err)
		}
		return okReply(cmd.Command, params.TargetVolume(cmd.Fader))
	case "SetVolume":
		if err := validFader(cmd.Fader); err != nil {
			return errReply(cmd.Command, err)
		}
		params.SetTargetVolume(cmd.Fader, float32(cmd.Value))
		s.markStateChanged()
		return okReply(cmd.Command, nil)
	case "AdjustVolume":
		if err := validFader(cmd.Fader); err != nil {
			return errReply(cmd.Command, err)
		}
		newVolume := params.TargetVolume(cmd.Fader) + float32(cmd.Value)
		params.SetTargetVolume(cmd.Fader, newVolume)
		s.markStateChanged()
		return okReply(cmd.Command, newVolume)
	case "GetMute":
		if err := validFader(cmd.Fader); err != nil {
			return errReply(cmd.Command, err)
		}
		return okReply(cmd.Command, params.IsMute(cmd.Fader))
	case "SetMute":
		if err := validFader(cmd.Fader); err != nil {
			return errReply(cmd.Command, err)
		}
		params.SetMute(cmd.Fader, cmd.Value != 0)
		s.markStateChanged()
		return okReply(cmd.Command, nil)
	case "ToggleMute":
		if err := validFader(cmd.Fader); err != nil {
			return errReply(cmd.Command, err)
		}
		muted := params.ToggleMute(cmd.Fader)
		s.markStateChanged()
		return okReply(cmd.Command, muted)

	case "GetCaptureRate":
		return okReply(cmd.Command, s.snapshot().CaptureRate)
	case "GetSignalRange":
		return okReply(cmd.Command, s.snapshot().SignalRange)
	case "GetRateAdjust":
		return okReply(cmd.Command, s.snapshot().RateAdjust)
	case "GetBufferLevel":
		return okReply(cmd.Command, s.snapshot().BufferLevel)
	case "GetClippedSamples":
		return okReply(cmd.Command, s.snapshot().ClippedSamples)
	case "GetProcessingLoad":
		return okReply(cmd.Command, params.ProcessingLoad())
	case "GetSupportedDeviceTypes":
		return okReply(cmd.Command, map[string][]string{
			"capture":  device.SupportedCaptureTypes(),
			"playback": device.SupportedPlaybackTypes(),
		})

	case "GetConfig":
		cfg := s.engine.Configs.Active()
		if cfg == nil {
			cfg = s.engine.Configs.Previous()
		}
		if cfg == nil {
			return errReply(cmd.Command, fmt.Errorf("no config available"))
		}
		data, err := cfg.Marshal()
		if err != nil {
			return errReply(cmd.Command, err)
		}
		return okReply(cmd.Command, string(data))
	case "GetConfigPath":
		if s.saver == nil {
			return okReply(cmd.Command, "")
		}
		return okReply(cmd.Command, s.saver.ConfigPath())
	case "SetConfigPath":
		cfg, err := conf.Load(cmd.Path)
		if err != nil {
			return errReply(cmd.Command, err)
		}
		if err := cfg.Validate(); err != nil {
			return errReply(cmd.Command, err)
		}
		if s.saver != nil {
			s.saver.SetConfigPath(cmd.Path)
		}
		s.engine.Configs.SetPending(cfg)
		s.engine.RequestReload()
		s.wake()
		return okReply(cmd.Command, nil)
	case "SetConfig":
		cfg, err := conf.LoadBytes([]byte(cmd.Config))
		if err != nil {
			return errReply(cmd.Command, err)
		}
		if err := cfg.Validate(); err != nil {
			return errReply(cmd.Command, err)
		}
		s.engine.Configs.SetPending(cfg)
		s.engine.RequestReload()
		s.wake()
		logger.Info("new config received over control socket")
		return okReply(cmd.Command, nil)
	case "Reload":
		s.engine.RequestReload()
		s.wake()
		return okReply(cmd.Command, nil)
	case "Stop":
		s.engine.RequestStop()
		s.wake()
		return okReply(cmd.Command, nil)
	case "Exit":
		s.engine.RequestExit()
		select {
		case <-s.exitRequested:
		default:
			close(s.exitRequested)
		}
		s.wake()
		return okReply(cmd.Command, nil)
	default:
		return errReply(cmd.Command, fmt.Errorf("unknown command %q", cmd.Command))
	}
}

func (s *Server) markStateChanged() {
	if s.saver != nil {
		s.saver.MarkChanged()
	}
}
