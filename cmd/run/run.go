// Package run implements the subcommand that starts the engine and its
// outer wait/restart loop.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/control"
	"github.com/mvirtane/flowdsp-go/internal/engine"
	"github.com/mvirtane/flowdsp-go/internal/logging"
	"github.com/mvirtane/flowdsp-go/internal/statefile"
)

// Exit codes, matching what operators script against.
const (
	exitOK              = 0
	exitBadConfig       = 101
	exitProcessingError = 102
)

type options struct {
	configPath   string
	stateFile    string
	logFile      string
	logLevel     string
	address      string
	port         int
	wait         bool
	initialGain  float64
	gainSet      bool
	initialMute  bool
	samplerate   int
	channels     int
	format       string
	extraSamples int
}

// Command creates the run subcommand.
func Command() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run the processing engine",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 {
				opts.configPath = args[0]
			}
			opts.gainSet = cmd.Flags().Changed("gain")
			os.Exit(runEngine(opts))
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.stateFile, "statefile", "s", "", "Path to the statefile for volume/mute persistence")
	flags.StringVarP(&opts.logFile, "logfile", "o", "", "Write structured logs to this file")
	flags.StringVarP(&opts.logLevel, "loglevel", "l", "info", "Log level (trace, debug, info, warn, error)")
	flags.StringVarP(&opts.address, "address", "a", "127.0.0.1", "Address for the control server")
	flags.IntVarP(&opts.port, "port", "p", 0, "Port for the control server, 0 disables it")
	flags.BoolVarP(&opts.wait, "wait", "w", false, "Keep running and wait for a new config after the stream ends")
	flags.Float64VarP(&opts.initialGain, "gain", "g", 0.0, "Initial volume in dB for the main fader")
	flags.BoolVarP(&opts.initialMute, "mute", "m", false, "Start with the main fader muted")
	flags.IntVarP(&opts.samplerate, "samplerate", "r", 0, "Override the config samplerate")
	flags.IntVarP(&opts.channels, "channels", "n", 0, "Override the capture channel count")
	flags.StringVarP(&opts.format, "format", "f", "", "Override the capture sample format")
	flags.IntVarP(&opts.extraSamples, "extra-samples", "e", 0, "Override the extra zero samples appended at end of stream")
	return cmd
}

func parseLevel(name string) slog.Level {
	switch name {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig reads, overrides and validates the config at path.
func loadConfig(path string, opts *options) (*conf.Config, error) {
	cfg, err := conf.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Apply(&conf.Overrides{
		Samplerate:   opts.samplerate,
		Channels:     opts.channels,
		Format:       opts.format,
		ExtraSamples: opts.extraSamples,
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runEngine(opts *options) int {
	logging.Init(logging.Options{
		LogFile: opts.logFile,
		Level:   parseLevel(opts.logLevel),
	})
	logger := logging.ServiceLogger("main")

	// The statefile provides initial fader settings and a config path
	// fallback; explicit flags win.
	volumes := [audio.NumFaders]float32{}
	mutes := [audio.NumFaders]bool{}
	configPath := opts.configPath
	if opts.stateFile != "" {
		if state := statefile.Load(opts.stateFile); state != nil {
			volumes = state.Volume
			mutes = state.Mute
			if configPath == "" {
				configPath = state.ConfigPath
			}
		}
	}
	if opts.gainSet {
		volumes[0] = float32(opts.initialGain)
	}
	if opts.initialMute {
		mutes[0] = true
	}

	params := audio.NewProcessingParameters(&volumes, &mutes)
	eng := engine.New(params)

	var saver *statefile.Saver
	if opts.stateFile != "" {
		saver = statefile.NewSaver(opts.stateFile, params)
		saver.SetConfigPath(configPath)
		go saver.Run()
		defer saver.Stop()
	}

	var server *control.Server
	if opts.port > 0 {
		server = control.NewServer(eng, saver)
		addr := fmt.Sprintf("%s:%d", opts.address, opts.port)
		go func() {
			if err := server.Start(addr); err != nil {
				logger.Error("control server failed", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Shutdown(ctx) //nolint:errcheck
		}()
		logger.Info("control server listening", "address", addr)
	}

	if configPath == "" && server == nil {
		logger.Error("no config file given and no control server to receive one")
		return exitBadConfig
	}

	// stageConfigFromFile loads the config file into the pending slot,
	// used at startup and on every reload trigger.
	stageConfigFromFile := func() bool {
		if configPath == "" {
			return false
		}
		cfg, err := loadConfig(configPath, opts)
		if err != nil {
			logger.Error("invalid config file", "path", configPath, "error", err)
			return false
		}
		eng.Configs.SetPending(cfg)
		return true
	}

	if configPath != "" && !stageConfigFromFile() {
		return exitBadConfig
	}

	// SIGHUP reloads the config file; SIGINT/SIGTERM shut down.
	wake := make(chan struct{}, 1)
	hup := make(chan os.Signal, 1)
	term := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(hup)
	defer signal.Stop(term)
	go func() {
		for range hup {
			logger.Info("received SIGHUP, reloading config")
			if stageConfigFromFile() {
				eng.RequestReload()
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	shutdown := make(chan struct{})
	go func() {
		<-term
		logger.Info("received termination signal")
		eng.RequestExit()
		close(shutdown)
	}()

	if configPath != "" {
		if watcher, err := conf.WatchFile(configPath, func() {
			if stageConfigFromFile() {
				eng.RequestReload()
			}
		}); err == nil {
			defer watcher.Close() //nolint:errcheck
		} else {
			logger.Warn("config file watching unavailable", "error", err)
		}
	}

	for {
		state, err := eng.Run()
		if err != nil {
			logger.Error("engine failed to start", "error", err)
			return exitProcessingError
		}
		if state == engine.ExitShutdown {
			break
		}
		stop := eng.ProcessingStatus.StopReason()
		logger.Info("session ended", "stop_reason", stop.String())

		keepRunning := opts.wait || server != nil
		if !keepRunning {
			if stop.Kind == audio.StopReasonDone || stop.Kind == audio.StopReasonNone {
				return exitOK
			}
			return exitProcessingError
		}

		// Wait for a new config to start the next session.
		for !eng.Configs.HasPending() {
			var serverWake <-chan struct{}
			var serverExit <-chan struct{}
			if server != nil {
				serverWake = server.Wake
				serverExit = server.ExitRequested()
			}
			select {
			case <-wake:
			case <-serverWake:
			case <-serverExit:
				return exitOK
			case <-shutdown:
				return exitOK
			case <-time.After(supervisorIdleTick):
			}
		}
	}
	stop := eng.ProcessingStatus.StopReason()
	switch stop.Kind {
	case audio.StopReasonNone, audio.StopReasonDone:
		return exitOK
	default:
		return exitProcessingError
	}
}

// supervisorIdleTick paces the idle wait between sessions.
const supervisorIdleTick = 250 * time.Millisecond
