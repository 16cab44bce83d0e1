package engine

import (
	"log/slog"
	"time"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/device"
	"github.com/mvirtane/flowdsp-go/internal/dsp"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// pipeConfigMsg carries a live config change to the process worker.
type pipeConfigMsg struct {
	change conf.Change
	cfg    *conf.Config
}

// runProcessing is the process worker: receive a chunk, run the pipeline,
// forward the result, and apply config changes at chunk boundaries.
func runProcessing(cfg *conf.Config, barrier *device.Barrier,
	toPlayback chan<- audio.Message, fromCapture <-chan audio.Message,
	pipeConfig <-chan pipeConfigMsg, status chan<- device.StatusMessage,
	params *audio.ProcessingParameters) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// This worker is the sole sender on the playback channel; closing
		// it lets a surviving playback worker wind down.
		defer close(toPlayback)
		logger := logging.ServiceLogger("engine").With("component", "processing")

		// drainCapture keeps the capture side unblocked after an abnormal
		// exit until capture has wound down itself.
		drainCapture := func() {
			for msg := range fromCapture {
				if msg.Kind == audio.KindEndOfStream {
					return
				}
			}
		}

		pipeline, err := dsp.NewPipeline(cfg, params)
		if err != nil {
			// The config was validated before the session started; a
			// build failure here means a coefficient file disappeared in
			// between.
			logger.Error("failed to build pipeline", "error", err)
			sendStatus(status, device.StatusMessage{
				Kind: device.StatusCaptureError, Message: err.Error()})
			barrier.Wait()
			toPlayback <- audio.EndOfStreamMsg()
			drainCapture()
			return
		}
		logger.Debug("pipeline built, waiting to start processing loop")
		barrier.Wait()
		logger.Debug("processing loop starts now")

		chunkPeriod := float64(cfg.Devices.Chunksize) / float64(cfg.Devices.Samplerate)
		loadAvg := 0.0

		for msg := range fromCapture {
			switch msg.Kind {
			case audio.KindAudio:
				start := time.Now()
				chunk, err := pipeline.ProcessChunk(msg.Chunk)
				if err != nil {
					logger.Error("processing failed", "error", err)
					sendStatus(status, device.StatusMessage{
						Kind: device.StatusCaptureError, Message: err.Error()})
					toPlayback <- audio.EndOfStreamMsg()
					params.SetProcessingLoad(0.0)
					drainCapture()
					return
				}
				// Exponentially smoothed share of real time spent
				// processing.
				load := time.Since(start).Seconds() / chunkPeriod
				loadAvg = 0.9*loadAvg + 0.1*load
				params.SetProcessingLoad(float32(loadAvg))
				toPlayback <- audio.AudioMsg(chunk)
			case audio.KindPause:
				toPlayback <- audio.PauseMsg()
			case audio.KindEndOfStream:
				logger.Debug("end of stream received")
				toPlayback <- audio.EndOfStreamMsg()
				params.SetProcessingLoad(0.0)
				return
			}

			select {
			case cfgMsg := <-pipeConfig:
				applyConfigChange(&pipeline, cfgMsg, params, logger)
			default:
			}
		}
		// Capture channel closed without end of stream.
		toPlayback <- audio.EndOfStreamMsg()
		params.SetProcessingLoad(0.0)
	}()
	return done
}

// sendStatus delivers a status message without blocking; the supervisor
// may have already exited on teardown paths.
func sendStatus(status chan<- device.StatusMessage, msg device.StatusMessage) {
	select {
	case status <- msg:
	default:
	}
}

func applyConfigChange(pipeline **dsp.Pipeline, msg pipeConfigMsg,
	params *audio.ProcessingParameters, logger *slog.Logger) {
	switch msg.change.Kind {
	case conf.ChangePipeline, conf.ChangeMixerParameters:
		logger.Debug("rebuilding pipeline", "change", msg.change.Kind.String())
		newPipeline, err := dsp.NewPipeline(msg.cfg, params)
		if err != nil {
			logger.Error("failed to rebuild pipeline, keeping the old one", "error", err)
			return
		}
		*pipeline = newPipeline
	case conf.ChangeFilterParameters:
		logger.Debug("updating filter parameters",
			"filters", msg.change.Filters,
			"mixers", msg.change.Mixers,
			"processors", msg.change.Processors)
		(*pipeline).UpdateParameters(msg.cfg, msg.change.Filters, msg.change.Mixers, msg.change.Processors)
	}
}
