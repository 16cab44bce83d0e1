// Package dsp implements the processing graph: per-channel filters,
// multi-channel processors, mixers, and the pipeline that runs them over
// audio chunks in declared order.
package dsp

import (
	"math"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// Filter transforms a single channel waveform in place. Each filter owns
// its mutable state and must not allocate on the processing path.
type Filter interface {
	Name() string
	ProcessWaveform(waveform []float64) error
	// UpdateParameters applies a config of the filter's own type. Calling
	// it with another filter type is a programmer error and panics; the
	// pipeline only dispatches matching configs.
	UpdateParameters(cfg conf.FilterConfig)
}

// Processor transforms a whole chunk, seeing all channels at once.
type Processor interface {
	Name() string
	ProcessChunk(chunk *audio.Chunk) error
	UpdateParameters(cfg conf.ProcessorConfig)
}

// dbToLinear converts a dB value to a linear gain factor.
func dbToLinear(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}

// linearToDB converts a linear gain factor to dB.
func linearToDB(lin float64) float64 {
	return 20.0 * math.Log10(lin)
}
