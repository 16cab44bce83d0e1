package resampler

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// syncResampler converts between two fixed rates by FFT spectrum resizing
// on rational blocks: each block of blockIn input frames transforms,
// truncates or zero-pads to the output bandwidth, and inverse transforms
// to blockOut frames. Input needs per chunk are known exactly at build
// time, and the ratio cannot change.
type syncResampler struct {
	channels  int
	chunksize int
	blockIn   int
	blockOut  int
	fwd       *fourier.FFT
	inv       *fourier.FFT
	specIn    []complex128
	specOut   []complex128
	outBuf    [][]float64
	realIn    []float64
	realOut   []float64
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func newSyncResampler(channels, captureSamplerate, samplerate, chunksize int) (*syncResampler, error) {
	if captureSamplerate <= 0 || samplerate <= 0 {
		return nil, errors.Newf("sample rates must be positive").
			Component("resampler").
			Category(errors.CategoryValidation).
			Build()
	}
	g := gcd(captureSamplerate, samplerate)
	blockIn := captureSamplerate / g
	blockOut := samplerate / g
	// Scale tiny rational blocks up for better transform resolution.
	for blockIn < 64 {
		blockIn *= 2
		blockOut *= 2
	}
	r := &syncResampler{
		channels:  channels,
		chunksize: chunksize,
		blockIn:   blockIn,
		blockOut:  blockOut,
		fwd:       fourier.NewFFT(blockIn),
		inv:       fourier.NewFFT(blockOut),
		specIn:    make([]complex128, blockIn/2+1),
		specOut:   make([]complex128, blockOut/2+1),
		outBuf:    make([][]float64, channels),
		realIn:    make([]float64, blockIn),
		realOut:   make([]float64, blockOut),
	}
	for ch := range r.outBuf {
		r.outBuf[ch] = make([]float64, 0, chunksize+blockOut)
	}
	return r, nil
}

// blocksNeeded is how many rational blocks fill the next output chunk.
func (r *syncResampler) blocksNeeded() int {
	buffered := len(r.outBuf[0])
	missing := r.chunksize - buffered
	if missing <= 0 {
		return 0
	}
	return (missing + r.blockOut - 1) / r.blockOut
}

func (r *syncResampler) InputFramesNext() int {
	return r.blocksNeeded() * r.blockIn
}

func (r *syncResampler) Process(input [][]float64, mask []bool) ([][]float64, error) {
	if len(input) != r.channels {
		return nil, errors.Newf("resampler expects %d channels, got %d", r.channels, len(input)).
			Component("resampler").
			Category(errors.CategoryResampler).
			Build()
	}
	blocks := r.blocksNeeded()
	for ch := 0; ch < r.channels; ch++ {
		if !chActive(mask, ch) || len(input[ch]) == 0 {
			// Silence costs no transforms.
			r.outBuf[ch] = append(r.outBuf[ch], make([]float64, blocks*r.blockOut)...)
			continue
		}
		for b := 0; b < blocks; b++ {
			for i := 0; i < r.blockIn; i++ {
				idx := b*r.blockIn + i
				if idx < len(input[ch]) {
					r.realIn[i] = input[ch][idx]
				} else {
					r.realIn[i] = 0.0
				}
			}
			r.fwd.Coefficients(r.specIn, r.realIn)
			// Move spectrum to the output bandwidth: truncate when
			// downsampling, zero-pad when upsampling. The inverse
			// transform is unnormalized so dividing by blockIn restores
			// unity passband gain.
			scale := complex(1.0/float64(r.blockIn), 0)
			for i := range r.specOut {
				if i < len(r.specIn) {
					r.specOut[i] = r.specIn[i] * scale
				} else {
					r.specOut[i] = 0
				}
			}
			r.inv.Sequence(r.realOut, r.specOut)
			r.outBuf[ch] = append(r.outBuf[ch], r.realOut...)
		}
	}

	output := make([][]float64, r.channels)
	for ch := 0; ch < r.channels; ch++ {
		wf := make([]float64, r.chunksize)
		copy(wf, r.outBuf[ch][:r.chunksize])
		r.outBuf[ch] = r.outBuf[ch][:copy(r.outBuf[ch], r.outBuf[ch][r.chunksize:])]
		if chActive(mask, ch) {
			output[ch] = wf
		} else {
			output[ch] = nil
		}
	}
	return output, nil
}

func (r *syncResampler) SetRatioRelative(speed float64) error {
	return ErrRatioNotAdjustable
}

func (r *syncResampler) IsAsync() bool { return false }
