package device

import (
	"io"
	"os"
	"strings"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
	"github.com/mvirtane/flowdsp-go/internal/resampler"
)

// fileReader reads raw interleaved PCM from a file or stdin.
type fileReader struct {
	f      *os.File
	closeF bool
}

func (r *fileReader) Read(buf []byte) (int, readResult, error) {
	if len(buf) == 0 {
		return 0, readEOF, nil
	}
	n, err := io.ReadFull(r.f, buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return n, readEOF, nil
	case err != nil:
		return n, readComplete, err
	default:
		return n, readComplete, nil
	}
}

func (r *fileReader) Close() error {
	if r.closeF {
		return r.f.Close()
	}
	return nil
}

// fileCaptureDevice reads raw PCM from a file or stdin.
type fileCaptureDevice struct {
	cfg *conf.Config
}

func newFileCaptureDevice(cfg *conf.Config) (*fileCaptureDevice, error) {
	return &fileCaptureDevice{cfg: cfg}, nil
}

func (d *fileCaptureDevice) Start(audioOut chan<- audio.Message, barrier *Barrier,
	status chan<- StatusMessage, commands <-chan CommandMessage,
	captureStatus *audio.CaptureStatus) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Sole sender on the audio channel; closing it unblocks the
		// process worker on every exit path.
		defer close(audioOut)
		logger := captureLogger("file")

		var reader *fileReader
		if strings.EqualFold(d.cfg.Devices.Capture.Type, "stdin") {
			reader = &fileReader{f: os.Stdin}
		} else {
			f, err := os.Open(d.cfg.Devices.Capture.Filename)
			if err != nil {
				wrapped := errors.Wrap(err).
					Component("device").
					Category(errors.CategoryCapture).
					Context("filename", d.cfg.Devices.Capture.Filename).
					Build()
				logger.Error("failed to open capture file", wrapped.LogAttrs()...)
				sendStatus(status, StatusMessage{Kind: StatusCaptureError, Message: err.Error()})
				barrier.Wait()
				return
			}
			reader = &fileReader{f: f, closeF: true}
		}

		rs, err := resampler.New(d.cfg.Devices.Resampler, d.cfg.Devices.Capture.Channels,
			d.cfg.Devices.Samplerate, d.cfg.CaptureSamplerate(), d.cfg.Devices.Chunksize)
		if err != nil {
			logger.Error("failed to create resampler", "error", err)
			sendStatus(status, StatusMessage{Kind: StatusCaptureError, Message: err.Error()})
			barrier.Wait()
			reader.Close()
			return
		}

		sendStatus(status, StatusMessage{Kind: StatusCaptureReady})
		barrier.Wait()
		logger.Debug("starting capture loop")
		captureLoop(reader, captureParamsFromConfig(d.cfg, rs), audioOut, status, commands,
			captureStatus, logger)
	}()
	return done
}

// fileWriter writes raw interleaved PCM to a file or stdout.
type fileWriter struct {
	f      *os.File
	closeF bool
}

func (w *fileWriter) Write(buf []byte) error {
	_, err := w.f.Write(buf)
	return err
}

func (w *fileWriter) BufferedFrames() int { return 0 }

func (w *fileWriter) Close() error {
	if w.closeF {
		return w.f.Close()
	}
	return nil
}

// filePlaybackDevice writes raw PCM to a file or stdout.
type filePlaybackDevice struct {
	cfg *conf.Config
}

func newFilePlaybackDevice(cfg *conf.Config) (*filePlaybackDevice, error) {
	return &filePlaybackDevice{cfg: cfg}, nil
}

func (d *filePlaybackDevice) Start(audioIn <-chan audio.Message, barrier *Barrier,
	status chan<- StatusMessage, playbackStatus *audio.PlaybackStatus) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger := playbackLogger("file")

		var writer *fileWriter
		if strings.EqualFold(d.cfg.Devices.Playback.Type, "stdout") {
			writer = &fileWriter{f: os.Stdout}
		} else {
			f, err := os.OpenFile(d.cfg.Devices.Playback.Filename,
				os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				wrapped := errors.Wrap(err).
					Component("device").
					Category(errors.CategoryPlayback).
					Context("filename", d.cfg.Devices.Playback.Filename).
					Build()
				logger.Error("failed to open playback file", wrapped.LogAttrs()...)
				sendStatus(status, StatusMessage{Kind: StatusPlaybackError, Message: err.Error()})
				barrier.Wait()
				return
			}
			writer = &fileWriter{f: f, closeF: true}
		}

		sendStatus(status, StatusMessage{Kind: StatusPlaybackReady})
		barrier.Wait()
		logger.Debug("starting playback loop")
		playbackLoop(writer, playbackParamsFromConfig(d.cfg), audioIn, status, playbackStatus, logger)
	}()
	return done
}
