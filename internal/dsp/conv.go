package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// Conv applies a long FIR impulse response by uniformly partitioned
// overlap-add convolution. The impulse response is split into segments of
// the chunk size; each chunk costs one forward FFT, K complex
// multiply-accumulates and one inverse FFT.
type Conv struct {
	name    string
	npoints int
	// segments holds the spectrum of each impulse response partition,
	// pre-scaled so the accumulated inverse transform comes out right.
	segments [][]complex128
	// history is a ring of the spectra of the last K input blocks;
	// head indexes the newest.
	history [][]complex128
	head    int
	overlap []float64
	fft     *fourier.FFT
	realBuf []float64
	accum   []complex128
}

// NewConv creates a convolver for chunks of dataLength samples.
func NewConv(name string, dataLength int, coeffs []float64) (*Conv, error) {
	if len(coeffs) == 0 {
		return nil, errors.Newf("convolution filter %q has an empty impulse response", name).
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}
	c := &Conv{
		name:    name,
		npoints: dataLength,
		fft:     fourier.NewFFT(2 * dataLength),
		realBuf: make([]float64, 2*dataLength),
		accum:   make([]complex128, dataLength+1),
		overlap: make([]float64, dataLength),
	}
	c.setCoefficients(coeffs)
	c.history = make([][]complex128, len(c.segments))
	for i := range c.history {
		c.history[i] = make([]complex128, dataLength+1)
	}
	return c, nil
}

// NewConvFromConfig creates a convolver with the impulse response loaded
// from the config's inline values or coefficient file.
func NewConvFromConfig(name string, dataLength int, p conf.FilterParams) (*Conv, error) {
	coeffs, err := LoadCoefficients(&p)
	if err != nil {
		return nil, err
	}
	return NewConv(name, dataLength, coeffs)
}

// setCoefficients partitions the impulse response and transforms each
// segment. The spectra are divided by the transform length since the
// inverse transform is unnormalized.
func (c *Conv) setCoefficients(coeffs []float64) {
	n := c.npoints
	nSegments := (len(coeffs) + n - 1) / n
	scale := 1.0 / float64(2*n)
	segments := make([][]complex128, nSegments)
	for seg := 0; seg < nSegments; seg++ {
		for i := range c.realBuf {
			c.realBuf[i] = 0.0
		}
		for i := 0; i < n; i++ {
			if idx := seg*n + i; idx < len(coeffs) {
				c.realBuf[i] = coeffs[idx] * scale
			}
		}
		spectrum := make([]complex128, n+1)
		c.fft.Coefficients(spectrum, c.realBuf)
		segments[seg] = spectrum
	}
	c.segments = segments
}

// Segments returns the number of impulse response partitions.
func (c *Conv) Segments() int {
	return len(c.segments)
}

func (c *Conv) Name() string { return c.name }

func (c *Conv) ProcessWaveform(waveform []float64) error {
	n := c.npoints
	k := len(c.segments)

	// Forward transform of the zero-padded input block into the ring.
	for i := 0; i < n; i++ {
		if i < len(waveform) {
			c.realBuf[i] = waveform[i]
		} else {
			c.realBuf[i] = 0.0
		}
		c.realBuf[n+i] = 0.0
	}
	c.head = (c.head + 1) % k
	c.fft.Coefficients(c.history[c.head], c.realBuf)

	// Multiply-accumulate every partition against the matching input
	// block spectrum.
	for i := range c.accum {
		c.accum[i] = 0
	}
	for seg := 0; seg < k; seg++ {
		x := c.history[(c.head-seg+k)%k]
		h := c.segments[seg]
		for i := range c.accum {
			c.accum[i] += x[i] * h[i]
		}
	}

	c.fft.Sequence(c.realBuf, c.accum)
	for i := 0; i < n && i < len(waveform); i++ {
		waveform[i] = c.realBuf[i] + c.overlap[i]
		c.overlap[i] = c.realBuf[n+i]
	}
	return nil
}

// UpdateParameters recomputes the partition spectra from the new impulse
// response. The input history is preserved when the partition count is
// unchanged, which avoids an audible discontinuity; otherwise it is reset.
func (c *Conv) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "Conv" {
		panic("invalid config change for Conv filter")
	}
	coeffs, err := LoadCoefficients(&cfg.Parameters)
	if err != nil || len(coeffs) == 0 {
		// Validation runs before updates reach the pipeline.
		panic("invalid impulse response in Conv update")
	}
	oldSegments := len(c.segments)
	c.setCoefficients(coeffs)
	if len(c.segments) != oldSegments {
		c.history = make([][]complex128, len(c.segments))
		for i := range c.history {
			c.history[i] = make([]complex128, c.npoints+1)
		}
		c.head = 0
		for i := range c.overlap {
			c.overlap[i] = 0.0
		}
	}
}
