package device

import (
	"log/slog"
	"time"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/countertimer"
	"github.com/mvirtane/flowdsp-go/internal/logging"
	"github.com/mvirtane/flowdsp-go/internal/resampler"
)

// Rate watcher trigger condition: the smoothed measured rate must stay
// more than 4% off the nominal rate for 3 consecutive measurements.
const (
	rateChangeThreshold = 0.04
	rateChangeCount     = 3
)

// readResult classifies the outcome of one device read.
type readResult int

const (
	// readComplete means the requested amount arrived.
	readComplete readResult = iota
	// readTimeout means the device delivered nothing within its deadline
	// but is expected to resume.
	readTimeout
	// readEOF means the source is exhausted; the returned count may be a
	// final short read.
	readEOF
)

// blockReader is the backend side of a capture device: a blocking reader
// of interleaved PCM bytes.
type blockReader interface {
	// Read fills buf and reports how the read ended.
	Read(buf []byte) (int, readResult, error)
	Close() error
}

// captureParams bundles everything the generic capture loop needs.
type captureParams struct {
	channels          int
	chunksize         int
	captureSamplerate int
	format            audio.SampleFormat
	extraSamples      int
	readBytes         int
	silenceThreshold  float64 // dB
	silenceTimeout    float64 // seconds
	stopOnRateChange  bool
	rateMeasureSecs   float64
	resampler         resampler.Resampler
	resamplingRatio   float64 // output rate / capture rate
}

func captureParamsFromConfig(cfg *conf.Config, rs resampler.Resampler) captureParams {
	format := audio.S16LE
	if cfg.Devices.Capture.Format != "" {
		format, _ = audio.ParseSampleFormat(cfg.Devices.Capture.Format)
	}
	return captureParams{
		channels:          cfg.Devices.Capture.Channels,
		chunksize:         cfg.Devices.Chunksize,
		captureSamplerate: cfg.CaptureSamplerate(),
		format:            format,
		extraSamples:      cfg.Devices.Capture.ExtraSamples,
		readBytes:         cfg.Devices.Capture.ReadBytes,
		silenceThreshold:  cfg.Devices.SilenceThreshold,
		silenceTimeout:    cfg.Devices.SilenceTimeout,
		stopOnRateChange:  cfg.Devices.StopOnRateChange,
		rateMeasureSecs:   cfg.Devices.RateMeasureInterval,
		resampler:         rs,
		resamplingRatio:   float64(cfg.Devices.Samplerate) / float64(cfg.CaptureSamplerate()),
	}
}

// captureBytesNext sizes the next read: exactly what the resampler will
// consume, or one chunk.
func captureBytesNext(p *captureParams) int {
	if p.resampler != nil {
		return p.resampler.InputFramesNext() * p.channels * p.format.BytesPerSample()
	}
	return p.chunksize * p.channels * p.format.BytesPerSample()
}

// sendSilence pushes the configured zero-sample tail through the resampler
// and downstream so FIR tails in the graph can drain.
func sendSilence(extraSamples int, p *captureParams, audioOut chan<- audio.Message) {
	remaining := int(float64(extraSamples) * p.resamplingRatio)
	for remaining > 0 {
		frames := p.chunksize
		waveforms := make([][]float64, p.channels)
		if p.resampler != nil {
			needed := p.resampler.InputFramesNext()
			input := make([][]float64, p.channels)
			for ch := range input {
				input[ch] = make([]float64, needed)
			}
			out, err := p.resampler.Process(input, nil)
			if err != nil {
				return
			}
			waveforms = out
		} else {
			for ch := range waveforms {
				waveforms[ch] = make([]float64, frames)
			}
		}
		chunk := audio.NewChunk(waveforms, 0.0, 0.0, frames, frames)
		audioOut <- audio.AudioMsg(chunk)
		remaining -= frames
	}
}

// captureLoop is the worker body shared by all byte-oriented capture
// backends. It reads device-sized blocks, decodes them, feeds the silence
// gate and rate watchers, resamples, and forwards chunks downstream.
func captureLoop(reader blockReader, p captureParams, audioOut chan<- audio.Message,
	status chan<- StatusMessage, commands <-chan CommandMessage,
	captureStatus *audio.CaptureStatus, logger *slog.Logger) {
	defer reader.Close()

	bytesPerSample := p.format.BytesPerSample()
	bytesPerFrame := p.channels * bytesPerSample
	buf := make([]byte, p.chunksize*bytesPerFrame)

	extraBytesLeft := p.extraSamples * bytesPerFrame
	nbrBytesRead := 0

	averager := countertimer.NewTimeAverage()
	watcherAverager := countertimer.NewTimeAverage()
	valueWatcher := countertimer.NewValueWatcher(
		float64(p.captureSamplerate), rateChangeThreshold, rateChangeCount)
	silenceCounter := countertimer.NewSilenceCounter(
		p.silenceThreshold, p.silenceTimeout, p.captureSamplerate, p.chunksize)
	chunkStats := audio.NewStats(p.channels)
	rateMeasureMillis := int64(1000.0 * p.rateMeasureSecs)

	valueRange := 0.0
	rateAdjust := 0.0
	state := audio.StateRunning
	prevState := audio.StateRunning
	stalled := false
	channelMask := make([]bool, p.channels)

	for {
		select {
		case cmd := <-commands:
			switch cmd.Kind {
			case CommandExit:
				logger.Debug("exit command received, sending end of stream")
				audioOut <- audio.EndOfStreamMsg()
				sendStatus(status, StatusMessage{Kind: StatusCaptureDone})
				captureStatus.Lock()
				captureStatus.State = audio.StateInactive
				captureStatus.Unlock()
				return
			case CommandSetSpeed:
				rateAdjust = cmd.Speed
				if p.resampler != nil {
					if p.resampler.IsAsync() {
						if err := p.resampler.SetRatioRelative(cmd.Speed); err != nil {
							logger.Debug("failed to set resampling speed", "speed", cmd.Speed, "error", err)
						}
					} else {
						logger.Warn("requested rate adjust of synchronous resampler, ignoring")
					}
				}
			}
			continue
		default:
		}

		bytesToCapture := captureBytesNext(&p)
		if p.readBytes > 0 && nbrBytesRead+bytesToCapture > p.readBytes {
			logger.Debug("stopping capture, reached read_bytes limit")
			bytesToCapture = p.readBytes - nbrBytesRead
		}
		if bytesToCapture > len(buf) {
			buf = append(buf, make([]byte, bytesToCapture-len(buf))...)
		}

		bytesRead := 0
		n, result, err := reader.Read(buf[:bytesToCapture])
		switch {
		case err != nil:
			logger.Debug("encountered a read error", "error", err)
			sendStatus(status, StatusMessage{Kind: StatusCaptureError, Message: err.Error()})
			captureStatus.Lock()
			captureStatus.State = audio.StateInactive
			captureStatus.Unlock()
			return
		case result == readEOF || (p.readBytes > 0 && nbrBytesRead+n >= p.readBytes):
			bytesRead = n
			nbrBytesRead += n
			if n > 0 {
				for i := n; i < bytesToCapture; i++ {
					buf[i] = 0
				}
				logger.Debug("end of file, short read", "read", n, "wanted", bytesToCapture)
				missing := int(float64(bytesToCapture-n) * p.resamplingRatio)
				if extraBytesLeft > missing {
					bytesRead = bytesToCapture
					extraBytesLeft -= missing
				} else {
					bytesRead += int(float64(extraBytesLeft) / p.resamplingRatio)
					extraBytesLeft = 0
				}
			} else {
				logger.Debug("reached end of stream")
				extraSamples := extraBytesLeft / bytesPerFrame
				sendSilence(extraSamples, &p, audioOut)
				audioOut <- audio.EndOfStreamMsg()
				sendStatus(status, StatusMessage{Kind: StatusCaptureDone})
				captureStatus.Lock()
				captureStatus.State = audio.StateInactive
				captureStatus.Unlock()
				return
			}
		case result == readTimeout:
			audioOut <- audio.PauseMsg()
			if !stalled {
				logger.Debug("entering stalled state")
				stalled = true
				prevState = state
				state = audio.StateStalled
				captureStatus.Lock()
				captureStatus.State = audio.StateStalled
				captureStatus.Unlock()
			}
			continue
		default:
			if stalled {
				logger.Debug("leaving stalled state, resuming processing")
				stalled = false
				state = prevState
				captureStatus.Lock()
				captureStatus.State = state
				captureStatus.Unlock()
			}
			bytesRead = n
			nbrBytesRead += n
			averager.AddValue(n)

			captureStatus.RLock()
			updateInterval := captureStatus.UpdateInterval
			captureStatus.RUnlock()
			if averager.LargerThanMillis(int64(updateInterval)) {
				bytesPerSec := averager.Average()
				averager.Restart()
				measuredRate := bytesPerSec / float64(bytesPerFrame)
				captureStatus.Lock()
				captureStatus.MeasuredSamplerate = int(measuredRate)
				captureStatus.SignalRange = valueRange
				captureStatus.RateAdjust = rateAdjust
				captureStatus.State = state
				captureStatus.Unlock()
			}
			watcherAverager.AddValue(n)
			if watcherAverager.LargerThanMillis(rateMeasureMillis) {
				bytesPerSec := watcherAverager.Average()
				watcherAverager.Restart()
				measuredRate := bytesPerSec / float64(bytesPerFrame)
				if valueWatcher.CheckValue(measuredRate) {
					logger.Warn("sample rate change detected", "measured_rate", measuredRate)
					if p.stopOnRateChange {
						audioOut <- audio.EndOfStreamMsg()
						sendStatus(status, StatusMessage{
							Kind: StatusCaptureFormatChange,
							Rate: int(measuredRate),
						})
						captureStatus.Lock()
						captureStatus.State = audio.StateInactive
						captureStatus.Unlock()
						return
					}
				}
			}
		}

		captureStatus.RLock()
		usedChannels := captureStatus.UsedChannels
		captureStatus.RUnlock()
		chunk := audio.DecodeChunk(buf[:bytesToCapture], p.channels, p.format, bytesRead, usedChannels)
		chunk.UpdateStats(chunkStats)
		captureStatus.SignalRMS.AddRecord(chunkStats.RMS)
		captureStatus.SignalPeak.AddRecord(chunkStats.Peak)

		valueRange = chunk.ValueRange()
		if silenceCounter.Update(valueRange) == countertimer.GateRunning {
			state = audio.StateRunning
			if p.resampler != nil {
				chunk.UpdateChannelMask(channelMask)
				newWaves, err := p.resampler.Process(chunk.Waveforms, channelMask)
				if err != nil {
					sendStatus(status, StatusMessage{Kind: StatusCaptureError, Message: err.Error()})
					audioOut <- audio.EndOfStreamMsg()
					captureStatus.Lock()
					captureStatus.State = audio.StateInactive
					captureStatus.Unlock()
					return
				}
				chunkFrames := 0
				for _, w := range newWaves {
					if len(w) > chunkFrames {
						chunkFrames = len(w)
					}
				}
				if chunkFrames == 0 {
					chunkFrames = p.chunksize
				}
				chunk.ValidFrames = int(float64(chunkFrames) * float64(bytesRead) / float64(bytesToCapture))
				chunk.Frames = chunkFrames
				chunk.Waveforms = newWaves
			}
			audioOut <- audio.AudioMsg(chunk)
		} else {
			state = audio.StatePaused
			audioOut <- audio.PauseMsg()
			sleepUntilNext(bytesPerFrame, p.captureSamplerate, bytesToCapture)
		}
	}
}

// sleepUntilNext paces the loop while paused so a non-blocking source does
// not spin.
func sleepUntilNext(bytesPerFrame, samplerate, bytes int) {
	frames := bytes / bytesPerFrame
	duration := time.Duration(float64(frames) / float64(samplerate) * float64(time.Second))
	time.Sleep(duration)
}

func captureLogger(backend string) *slog.Logger {
	return logging.ServiceLogger("device").With("component", "capture", "backend", backend)
}
