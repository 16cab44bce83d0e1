// Package resampler bridges the capture sample rate to the processing rate.
// It offers a synchronous FFT resampler for fixed rational ratios and
// asynchronous sinc or polynomial interpolators whose ratio can be nudged
// at runtime for clock drift compensation.
package resampler

import (
	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// Resampler converts a variable number of input frames to fixed-size
// output chunks.
type Resampler interface {
	// InputFramesNext returns how many input frames the next Process call
	// consumes. The capture worker sizes its device read with this.
	InputFramesNext() int
	// Process consumes exactly InputFramesNext frames per channel and
	// produces one output chunk. Channels masked false are treated as
	// silent and skipped; their output waveform is empty.
	Process(input [][]float64, mask []bool) ([][]float64, error)
	// SetRatioRelative multiplies the nominal ratio by speed, a value
	// near 1.0. Only asynchronous resamplers support it.
	SetRatioRelative(speed float64) error
	// IsAsync reports whether the ratio can be adjusted at runtime.
	IsAsync() bool
}

// ErrRatioNotAdjustable is returned when a rate adjust reaches a
// synchronous resampler.
var ErrRatioNotAdjustable = errors.Newf("synchronous resampler does not support ratio adjustment").
	Component("resampler").
	Category(errors.CategoryResampler).
	Build()

// New creates the configured resampler, or nil when cfg is nil and the
// rates already match.
func New(cfg *conf.ResamplerConfig, channels, samplerate, captureSamplerate, chunksize int) (Resampler, error) {
	if cfg == nil {
		return nil, nil
	}
	ratio := float64(samplerate) / float64(captureSamplerate)
	switch cfg.Type {
	case "Synchronous":
		return newSyncResampler(channels, captureSamplerate, samplerate, chunksize)
	case "AsyncSinc":
		params, err := sincParametersFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return newAsyncResampler(channels, ratio, chunksize, newSincInterpolator(params)), nil
	case "AsyncPoly":
		interp, err := newPolyInterpolator(cfg.Interpolation)
		if err != nil {
			return nil, err
		}
		return newAsyncResampler(channels, ratio, chunksize, interp), nil
	default:
		return nil, errors.Newf("unknown resampler type %q", cfg.Type).
			Component("resampler").
			Category(errors.CategoryValidation).
			Build()
	}
}
