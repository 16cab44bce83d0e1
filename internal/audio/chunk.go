package audio

import "math"

// Chunk is the unit of audio that crosses every pipeline stage. Samples are
// stored planar, one slice per channel. A nil or empty channel slice means
// the channel is unused: consumers treat it as silence and producers skip it.
type Chunk struct {
	// Waveforms holds one sample slice per channel. Non-empty slices all
	// have length Frames.
	Waveforms [][]float64
	// Frames is the allocated length of each non-empty channel.
	Frames int
	// ValidFrames is the number of frames carrying real data. The tail up
	// to Frames is zero padding from a short read.
	ValidFrames int
	// MaxVal and MinVal are the extreme sample values seen at capture
	// time, used for silence detection.
	MaxVal float64
	MinVal float64
}

// NewChunk wraps waveforms in a Chunk.
func NewChunk(waveforms [][]float64, maxVal, minVal float64, frames, validFrames int) *Chunk {
	return &Chunk{
		Waveforms:   waveforms,
		Frames:      frames,
		ValidFrames: validFrames,
		MaxVal:      maxVal,
		MinVal:      minVal,
	}
}

// DerivedChunk creates a chunk that inherits frame accounting and signal
// range from src but carries new waveforms, as produced by a mixer stage.
func DerivedChunk(src *Chunk, waveforms [][]float64) *Chunk {
	return &Chunk{
		Waveforms:   waveforms,
		Frames:      src.Frames,
		ValidFrames: src.ValidFrames,
		MaxVal:      src.MaxVal,
		MinVal:      src.MinVal,
	}
}

// Channels returns the number of channel slots, used or not.
func (c *Chunk) Channels() int {
	return len(c.Waveforms)
}

// UpdateChannelMask records into mask which channels carry data.
// The mask must have one entry per channel.
func (c *Chunk) UpdateChannelMask(mask []bool) {
	for i := range c.Waveforms {
		mask[i] = len(c.Waveforms[i]) > 0
	}
}

// ValueRange returns the peak-to-peak range recorded at capture time.
func (c *Chunk) ValueRange() float64 {
	return c.MaxVal - c.MinVal
}

// Stats holds per-channel RMS and peak values for one chunk.
type Stats struct {
	RMS  []float64
	Peak []float64
}

// NewStats allocates stats storage for the given channel count.
func NewStats(channels int) *Stats {
	return &Stats{
		RMS:  make([]float64, channels),
		Peak: make([]float64, channels),
	}
}

// UpdateStats recomputes st from the chunk's waveforms. Unused channels
// report zero. Only ValidFrames samples are considered.
func (c *Chunk) UpdateStats(st *Stats) {
	for ch := range c.Waveforms {
		if ch >= len(st.RMS) {
			break
		}
		wf := c.Waveforms[ch]
		if len(wf) == 0 || c.ValidFrames == 0 {
			st.RMS[ch] = 0.0
			st.Peak[ch] = 0.0
			continue
		}
		n := c.ValidFrames
		if n > len(wf) {
			n = len(wf)
		}
		sumSq := 0.0
		peak := 0.0
		for _, v := range wf[:n] {
			sumSq += v * v
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
		st.RMS[ch] = math.Sqrt(sumSq / float64(n))
		st.Peak[ch] = peak
	}
}

// RMSDB returns the RMS values converted to dB.
func (s *Stats) RMSDB() []float64 {
	return toDB(s.RMS)
}

// PeakDB returns the peak values converted to dB.
func (s *Stats) PeakDB() []float64 {
	return toDB(s.Peak)
}

func toDB(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v > 0 {
			out[i] = 20.0 * math.Log10(v)
		} else {
			out[i] = -1000.0
		}
	}
	return out
}
