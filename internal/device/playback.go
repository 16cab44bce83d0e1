package device

import (
	"log/slog"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/countertimer"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// Rate adjust clamp. The controller output is a small correction near 1.0;
// anything outside this band indicates a broken measurement, not a real
// clock offset.
const (
	minSpeed = 0.9
	maxSpeed = 1.1
)

// blockWriter is the backend side of a playback device: a blocking writer
// of interleaved PCM bytes that can report its device-side buffered frames.
type blockWriter interface {
	Write(buf []byte) error
	// BufferedFrames returns frames queued inside the device, 0 when the
	// backend has no queue of its own.
	BufferedFrames() int
	Close() error
}

// playbackParams bundles what the generic playback loop needs.
type playbackParams struct {
	channels         int
	chunksize        int
	samplerate       int
	format           audio.SampleFormat
	enableRateAdjust bool
	adjustPeriod     float64 // seconds
	targetLevel      int     // frames
}

func playbackParamsFromConfig(cfg *conf.Config) playbackParams {
	format := audio.S16LE
	if cfg.Devices.Playback.Format != "" {
		format, _ = audio.ParseSampleFormat(cfg.Devices.Playback.Format)
	}
	return playbackParams{
		channels:         cfg.Devices.Playback.Channels,
		chunksize:        cfg.Devices.Chunksize,
		samplerate:       cfg.Devices.Samplerate,
		format:           format,
		enableRateAdjust: cfg.Devices.EnableRateAdjust,
		adjustPeriod:     cfg.Devices.AdjustPeriod,
		targetLevel:      cfg.Devices.TargetLevel,
	}
}

// clampSpeed bounds the controller output defensively.
func clampSpeed(speed float64) float64 {
	if speed < minSpeed {
		return minSpeed
	}
	if speed > maxSpeed {
		return maxSpeed
	}
	return speed
}

// playbackLoop is the worker body shared by all byte-oriented playback
// backends. It encodes chunks, writes them to the device, meters the
// signal, and runs the buffer-level controller that keeps capture and
// playback clocks aligned.
func playbackLoop(writer blockWriter, p playbackParams, audioIn <-chan audio.Message,
	status chan<- StatusMessage, playbackStatus *audio.PlaybackStatus, logger *slog.Logger) {
	defer writer.Close()

	buf := make([]byte, p.chunksize*p.channels*p.format.BytesPerSample())
	chunkStats := audio.NewStats(p.channels)
	levelAverager := countertimer.NewAverager()
	adjustTimer := countertimer.NewStopwatch()
	adjustMillis := int64(1000.0 * p.adjustPeriod)

	for msg := range audioIn {
		switch msg.Kind {
		case audio.KindAudio:
			chunk := msg.Chunk
			// Queue depth in the channel plus frames inside the device.
			bufferLevel := len(audioIn)*p.chunksize + writer.BufferedFrames()
			levelAverager.AddValue(float64(bufferLevel))
			if p.enableRateAdjust && adjustTimer.LargerThanMillis(adjustMillis) {
				adjustTimer.Restart()
				if avgLevel, ok := levelAverager.Average(); ok {
					levelAverager.Restart()
					speed := clampSpeed(1.0 + 0.5*(avgLevel-float64(p.targetLevel))/
						(p.adjustPeriod*float64(p.samplerate)))
					logger.Debug("rate adjust tick",
						"avg_level", avgLevel, "target_level", p.targetLevel, "speed", speed)
					sendStatus(status, StatusMessage{Kind: StatusSetSpeed, Speed: speed})
					playbackStatus.Lock()
					playbackStatus.BufferLevel = int(avgLevel)
					playbackStatus.Unlock()
				}
			}

			validBytes, clipped, peak := audio.EncodeChunk(chunk, buf, p.format)
			if clipped > 0 {
				logger.Warn("clipping detected",
					"clipped_samples", clipped, "peak", peak)
			}
			if err := writer.Write(buf[:validBytes]); err != nil {
				sendStatus(status, StatusMessage{Kind: StatusPlaybackError, Message: err.Error()})
				// Keep draining so upstream stages are not blocked on a
				// full channel while they wind down.
				for drained := range audioIn {
					if drained.Kind == audio.KindEndOfStream {
						break
					}
				}
				return
			}
			chunk.UpdateStats(chunkStats)
			playbackStatus.Lock()
			if clipped > 0 {
				playbackStatus.ClippedSamples += clipped
			}
			playbackStatus.Unlock()
			playbackStatus.SignalRMS.AddRecord(chunkStats.RMS)
			playbackStatus.SignalPeak.AddRecord(chunkStats.Peak)
		case audio.KindPause:
			// Keep the device open, do nothing for one period.
		case audio.KindEndOfStream:
			sendStatus(status, StatusMessage{Kind: StatusPlaybackDone})
			return
		}
	}
	// Channel closed without end of stream: upstream died.
	sendStatus(status, StatusMessage{Kind: StatusPlaybackError, Message: "audio channel closed"})
}

func playbackLogger(backend string) *slog.Logger {
	return logging.ServiceLogger("device").With("component", "playback", "backend", backend)
}
