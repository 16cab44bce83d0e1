package resampler

import (
	"math"

	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// interpolator reads one output sample at a fractional position in the
// input stream. halfTaps is the number of input samples needed on each
// side of the position.
type interpolator interface {
	// interpolate evaluates at data[idx] + frac, 0 <= frac < 1.
	interpolate(data []float64, idx int, frac float64) float64
	halfTaps() int
}

// asyncResampler produces fixed-size output chunks from a variable number
// of input frames, tracking a fractional read position that advances by
// 1/ratio per output sample. The ratio can be scaled at runtime.
type asyncResampler struct {
	channels  int
	ratio     float64
	speed     float64
	chunksize int
	interp    interpolator
	// pending holds unconsumed input plus the history margin the
	// interpolator needs; pos is the read position within it.
	pending [][]float64
	pos     float64
}

func newAsyncResampler(channels int, ratio float64, chunksize int, interp interpolator) *asyncResampler {
	r := &asyncResampler{
		channels:  channels,
		ratio:     ratio,
		speed:     1.0,
		chunksize: chunksize,
		interp:    interp,
		pending:   make([][]float64, channels),
	}
	// Prime the history margin with silence so the first chunk needs no
	// special casing.
	margin := interp.halfTaps() + 1
	for ch := range r.pending {
		r.pending[ch] = make([]float64, 0, 4*chunksize)
		for i := 0; i < margin; i++ {
			r.pending[ch] = append(r.pending[ch], 0.0)
		}
	}
	r.pos = float64(margin)
	return r
}

// step is the input-domain distance between consecutive output samples.
func (r *asyncResampler) step() float64 {
	return 1.0 / (r.ratio * r.speed)
}

// requiredLen is the pending length needed to produce one full chunk.
func (r *asyncResampler) requiredLen() int {
	maxPos := r.pos + float64(r.chunksize-1)*r.step()
	return int(math.Floor(maxPos)) + r.interp.halfTaps() + 1
}

func (r *asyncResampler) InputFramesNext() int {
	have := 0
	if len(r.pending) > 0 {
		have = len(r.pending[0])
	}
	need := r.requiredLen() - have
	if need < 0 {
		return 0
	}
	return need
}

func (r *asyncResampler) Process(input [][]float64, mask []bool) ([][]float64, error) {
	if len(input) != r.channels {
		return nil, errors.Newf("resampler expects %d channels, got %d", r.channels, len(input)).
			Component("resampler").
			Category(errors.CategoryResampler).
			Build()
	}
	step := r.step()
	halfTaps := r.interp.halfTaps()
	needed := r.InputFramesNext()

	for ch := 0; ch < r.channels; ch++ {
		if len(input[ch]) > 0 {
			r.pending[ch] = append(r.pending[ch], input[ch]...)
		} else {
			// Keep empty channel buffers length-aligned with zeros so a
			// later unmute resumes cleanly.
			r.pending[ch] = append(r.pending[ch], make([]float64, needed)...)
		}
	}

	output := make([][]float64, r.channels)
	for ch := 0; ch < r.channels; ch++ {
		if !chActive(mask, ch) {
			output[ch] = nil
			continue
		}
		wf := make([]float64, r.chunksize)
		pos := r.pos
		data := r.pending[ch]
		for i := 0; i < r.chunksize; i++ {
			idx := int(pos)
			wf[i] = r.interp.interpolate(data, idx, pos-float64(idx))
			pos += step
		}
		output[ch] = wf
	}

	// Advance and trim, keeping the interpolator's history margin.
	newPos := r.pos + float64(r.chunksize)*step
	discard := int(newPos) - halfTaps - 1
	if discard < 0 {
		discard = 0
	}
	for ch := range r.pending {
		if discard <= len(r.pending[ch]) {
			// Copy down in place so the buffer keeps its allocation.
			kept := copy(r.pending[ch], r.pending[ch][discard:])
			r.pending[ch] = r.pending[ch][:kept]
		}
	}
	r.pos = newPos - float64(discard)
	return output, nil
}

func (r *asyncResampler) SetRatioRelative(speed float64) error {
	r.speed = speed
	return nil
}

func (r *asyncResampler) IsAsync() bool { return true }

func chActive(mask []bool, ch int) bool {
	if mask == nil || ch >= len(mask) {
		return true
	}
	return mask[ch]
}
