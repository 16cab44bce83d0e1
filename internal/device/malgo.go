package device

import (
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
	"github.com/mvirtane/flowdsp-go/internal/resampler"
)

// readDeadline is how long a soundcard read may deliver nothing before the
// capture loop reports a stall.
const readDeadline = 500 * time.Millisecond

// ringPollInterval paces the polling of the callback ring buffers.
const ringPollInterval = 2 * time.Millisecond

func malgoFormat(format audio.SampleFormat) (malgo.FormatType, error) {
	switch format {
	case audio.S16LE:
		return malgo.FormatS16, nil
	case audio.S24LE3:
		return malgo.FormatS24, nil
	case audio.S32LE:
		return malgo.FormatS32, nil
	case audio.Float32LE:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, errors.Newf("sample format %s is not supported by the soundcard backend", format).
			Component("device").
			Category(errors.CategoryValidation).
			Build()
	}
}

// soundcardReader moves bytes from the malgo data callback to the capture
// loop through a ring buffer.
type soundcardReader struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer
}

func newSoundcardReader(cfg *conf.Config) (*soundcardReader, error) {
	format := audio.S16LE
	if cfg.Devices.Capture.Format != "" {
		format, _ = audio.ParseSampleFormat(cfg.Devices.Capture.Format)
	}
	mFormat, err := malgoFormat(format)
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("device").
			Category(errors.CategoryCapture).
			Build()
	}
	bytesPerFrame := cfg.Devices.Capture.Channels * format.BytesPerSample()
	// Room for several chunks between callback and worker.
	ring := ringbuffer.New(8 * cfg.Devices.Chunksize * bytesPerFrame)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = mFormat
	deviceConfig.Capture.Channels = uint32(cfg.Devices.Capture.Channels)
	deviceConfig.SampleRate = uint32(cfg.CaptureSamplerate())

	r := &soundcardReader{ctx: ctx, ring: ring}
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, framecount uint32) {
			// Drop on overflow rather than block inside the audio thread.
			r.ring.Write(pInput) //nolint:errcheck
		},
	}
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit() //nolint:errcheck
		ctx.Free()
		return nil, errors.Wrap(err).
			Component("device").
			Category(errors.CategoryCapture).
			Context("device", cfg.Devices.Capture.Device).
			Build()
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit() //nolint:errcheck
		ctx.Free()
		return nil, errors.Wrap(err).
			Component("device").
			Category(errors.CategoryCapture).
			Build()
	}
	r.device = device
	return r, nil
}

func (r *soundcardReader) Read(buf []byte) (int, readResult, error) {
	if len(buf) == 0 {
		return 0, readEOF, nil
	}
	filled := 0
	deadline := time.Now().Add(readDeadline)
	for filled < len(buf) {
		n, err := r.ring.Read(buf[filled:])
		filled += n
		if err != nil && filled < len(buf) {
			if time.Now().After(deadline) {
				return filled, readTimeout, nil
			}
			time.Sleep(ringPollInterval)
		}
	}
	return filled, readComplete, nil
}

func (r *soundcardReader) Close() error {
	if r.device != nil {
		r.device.Uninit()
	}
	if r.ctx != nil {
		r.ctx.Uninit() //nolint:errcheck
		r.ctx.Free()
	}
	return nil
}

// soundcardCaptureDevice captures from the default or named soundcard.
type soundcardCaptureDevice struct {
	cfg *conf.Config
}

func newSoundcardCaptureDevice(cfg *conf.Config) (*soundcardCaptureDevice, error) {
	return &soundcardCaptureDevice{cfg: cfg}, nil
}

func (d *soundcardCaptureDevice) Start(audioOut chan<- audio.Message, barrier *Barrier,
	status chan<- StatusMessage, commands <-chan CommandMessage,
	captureStatus *audio.CaptureStatus) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Sole sender on the audio channel; closing it unblocks the
		// process worker on every exit path.
		defer close(audioOut)
		logger := captureLogger("soundcard")

		reader, err := newSoundcardReader(d.cfg)
		if err != nil {
			logger.Error("failed to open capture device", "error", err)
			sendStatus(status, StatusMessage{Kind: StatusCaptureError, Message: err.Error()})
			barrier.Wait()
			return
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

// soundcardWriter moves bytes from the playback loop to the malgo data
// callback through a ring buffer. Underruns play silence.
type soundcardWriter struct {
	ctx           *malgo.AllocatedContext
	device        *malgo.Device
	ring          *ringbuffer.RingBuffer
	bytesPerFrame int
}

func newSoundcardWriter(cfg *conf.Config) (*soundcardWriter, error) {
	format := audio.S16LE
	if cfg.Devices.Playback.Format != "" {
		format, _ = audio.ParseSampleFormat(cfg.Devices.Playback.Format)
	}
	mFormat, err := malgoFormat(format)
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("device").
			Category(errors.CategoryPlayback).
			Build()
	}
	bytesPerFrame := cfg.Devices.Playback.Channels * format.BytesPerSample()
	ring := ringbuffer.New(8 * cfg.Devices.Chunksize * bytesPerFrame)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = mFormat
	deviceConfig.Playback.Channels = uint32(cfg.Devices.Playback.Channels)
	deviceConfig.SampleRate = uint32(cfg.Devices.Samplerate)

	w := &soundcardWriter{ctx: ctx, ring: ring, bytesPerFrame: bytesPerFrame}
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, framecount uint32) {
			n, _ := w.ring.Read(pOutput)
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		},
	}
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit() //nolint:errcheck
		ctx.Free()
		return nil, errors.Wrap(err).
			Component("device").
			Category(errors.CategoryPlayback).
			Context("device", cfg.Devices.Playback.Device).
			Build()
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit() //nolint:errcheck
		ctx.Free()
		return nil, errors.Wrap(err).
			Component("device").
			Category(errors.CategoryPlayback).
			Build()
	}
	w.device = device
	return w, nil
}

func (w *soundcardWriter) Write(buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := w.ring.Write(buf[written:])
		written += n
		if err != nil && written < len(buf) {
			time.Sleep(ringPollInterval)
		}
	}
	return nil
}

func (w *soundcardWriter) BufferedFrames() int {
	return w.ring.Length() / w.bytesPerFrame
}

func (w *soundcardWriter) Close() error {
	if w.device != nil {
		w.device.Uninit()
	}
	if w.ctx != nil {
		w.ctx.Uninit() //nolint:errcheck
		w.ctx.Free()
	}
	return nil
}

// soundcardPlaybackDevice plays to the default or named soundcard.
type soundcardPlaybackDevice struct {
	cfg *conf.Config
}

func newSoundcardPlaybackDevice(cfg *conf.Config) (*soundcardPlaybackDevice, error) {
	return &soundcardPlaybackDevice{cfg: cfg}, nil
}

func (d *soundcardPlaybackDevice) Start(audioIn <-chan audio.Message, barrier *Barrier,
	status chan<- StatusMessage, playbackStatus *audio.PlaybackStatus) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger := playbackLogger("soundcard")

		writer, err := newSoundcardWriter(d.cfg)
		if err != nil {
			logger.Error("failed to open playback device", "error", err)
			sendStatus(status, StatusMessage{Kind: StatusPlaybackError, Message: err.Error()})
			barrier.Wait()
			return
		}

		sendStatus(status, StatusMessage{Kind: StatusPlaybackReady})
		barrier.Wait()
		logger.Debug("starting playback loop")
		playbackLoop(writer, playbackParamsFromConfig(d.cfg), audioIn, status, playbackStatus, logger)
	}()
	return done
}
