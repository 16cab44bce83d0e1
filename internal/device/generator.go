package device

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/resampler"
)

// generatorReader synthesizes a test signal as interleaved PCM, pacing
// itself to the configured sample rate so downstream timing behaves like a
// real device.
type generatorReader struct {
	signal     string
	frequency  float64
	amplitude  float64
	channels   int
	samplerate int
	format     audio.SampleFormat
	phase      float64
	lastRead   time.Time
}

func newGeneratorReader(cfg *conf.Config) *generatorReader {
	format := audio.S16LE
	if cfg.Devices.Capture.Format != "" {
		format, _ = audio.ParseSampleFormat(cfg.Devices.Capture.Format)
	}
	level := cfg.Devices.Capture.Level
	amplitude := math.Pow(10.0, level/20.0)
	return &generatorReader{
		signal:     strings.ToLower(cfg.Devices.Capture.Signal),
		frequency:  cfg.Devices.Capture.Frequency,
		amplitude:  amplitude,
		channels:   cfg.Devices.Capture.Channels,
		samplerate: cfg.CaptureSamplerate(),
		format:     format,
	}
}

func (g *generatorReader) sample() float64 {
	switch g.signal {
	case "square":
		if math.Sin(g.phase) >= 0 {
			return g.amplitude
		}
		return -g.amplitude
	case "noise":
		return g.amplitude * (2.0*rand.Float64() - 1.0)
	default: // sine
		return g.amplitude * math.Sin(g.phase)
	}
}

func (g *generatorReader) Read(buf []byte) (int, readResult, error) {
	if len(buf) == 0 {
		return 0, readEOF, nil
	}
	bps := g.format.BytesPerSample()
	frames := len(buf) / bps / g.channels
	phaseStep := 2.0 * math.Pi * g.frequency / float64(g.samplerate)

	waveforms := make([][]float64, g.channels)
	wf := make([]float64, frames)
	for n := 0; n < frames; n++ {
		wf[n] = g.sample()
		g.phase += phaseStep
		if g.phase > 2.0*math.Pi {
			g.phase -= 2.0 * math.Pi
		}
	}
	for ch := range waveforms {
		waveforms[ch] = wf
	}
	chunk := audio.NewChunk(waveforms, g.amplitude, -g.amplitude, frames, frames)
	audio.EncodeChunk(chunk, buf, g.format)

	// Pace generation to real time.
	period := time.Duration(float64(frames) / float64(g.samplerate) * float64(time.Second))
	if !g.lastRead.IsZero() {
		if sleep := period - time.Since(g.lastRead); sleep > 0 {
			time.Sleep(sleep)
		}
	}
	g.lastRead = time.Now()
	return frames * bps * g.channels, readComplete, nil
}

func (g *generatorReader) Close() error { return nil }

// generatorCaptureDevice produces a test signal without hardware.
type generatorCaptureDevice struct {
	cfg *conf.Config
}

func newGeneratorCaptureDevice(cfg *conf.Config) (*generatorCaptureDevice, error) {
	return &generatorCaptureDevice{cfg: cfg}, nil
}

func (d *generatorCaptureDevice) Start(audioOut chan<- audio.Message, barrier *Barrier,
	status chan<- StatusMessage, commands <-chan CommandMessage,
	captureStatus *audio.CaptureStatus) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Sole sender on the audio channel; closing it unblocks the
		// process worker on every exit path.
		defer close(audioOut)
		logger := captureLogger("generator")

		rs, err := resampler.New(d.cfg.Devices.Resampler, d.cfg.Devices.Capture.Channels,
			d.cfg.Devices.Samplerate, d.cfg.CaptureSamplerate(), d.cfg.Devices.Chunksize)
		if err != nil {
			logger.Error("failed to create resampler", "error", err)
			sendStatus(status, StatusMessage{Kind: StatusCaptureError, Message: err.Error()})
			barrier.Wait()
			return
		}

		sendStatus(status, StatusMessage{Kind: StatusCaptureReady})
		barrier.Wait()
		logger.Debug("starting capture loop")
		captureLoop(newGeneratorReader(d.cfg), captureParamsFromConfig(d.cfg, rs), audioOut,
			status, commands, captureStatus, logger)
	}()
	return done
}
