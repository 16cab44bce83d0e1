package audio

import (
	"encoding/binary"
	"math"
)

// Integer formats scale by 2^(bits-1); the largest storable positive sample
// is one quantisation step below full scale.
func scaleFactor(format SampleFormat) float64 {
	return math.Pow(2, float64(format.BitsPerSample()-1))
}

// DecodeChunk interprets buf as little-endian interleaved samples and
// produces a planar chunk. Channels whose usedChannels entry is false get an
// empty waveform and cost no work. validBytes bounds the samples that carry
// real data; the remainder of each waveform is zero padding.
func DecodeChunk(buf []byte, channels int, format SampleFormat, validBytes int, usedChannels []bool) *Chunk {
	bps := format.BytesPerSample()
	frames := len(buf) / bps / channels
	validFrames := validBytes / bps / channels
	maxVal := 0.0
	minVal := 0.0

	waveforms := make([][]float64, channels)
	for ch := 0; ch < channels; ch++ {
		if ch < len(usedChannels) && !usedChannels[ch] {
			waveforms[ch] = nil
			continue
		}
		wf := make([]float64, frames)
		for n := 0; n < validFrames; n++ {
			offset := (n*channels + ch) * bps
			v := decodeSample(buf[offset:offset+bps], format)
			wf[n] = v
			if v > maxVal {
				maxVal = v
			}
			if v < minVal {
				minVal = v
			}
		}
		waveforms[ch] = wf
	}
	return NewChunk(waveforms, maxVal, minVal, frames, validFrames)
}

// EncodeChunk is the inverse of DecodeChunk. Empty waveforms encode as
// zeros. Integer samples outside the representable range saturate; the
// return values are the number of bytes holding valid frames, the count of
// saturated samples and the peak magnitude among them.
func EncodeChunk(chunk *Chunk, buf []byte, format SampleFormat) (validBytes, clipped int, peak float64) {
	bps := format.BytesPerSample()
	channels := chunk.Channels()
	for ch := 0; ch < channels; ch++ {
		wf := chunk.Waveforms[ch]
		for n := 0; n < chunk.Frames; n++ {
			offset := (n*channels + ch) * bps
			v := 0.0
			if n < len(wf) {
				v = wf[n]
			}
			clip := encodeSample(v, buf[offset:offset+bps], format)
			if clip {
				clipped++
				if a := math.Abs(v); a > peak {
					peak = a
				}
			}
		}
	}
	return chunk.ValidFrames * channels * bps, clipped, peak
}

func decodeSample(b []byte, format SampleFormat) float64 {
	switch format {
	case S16LE:
		return float64(int16(binary.LittleEndian.Uint16(b))) / scaleFactor(S16LE)
	case S24LE:
		raw := int32(binary.LittleEndian.Uint32(b))
		// sign extend from bit 23
		raw = raw << 8 >> 8
		return float64(raw) / scaleFactor(S24LE)
	case S24LE3:
		raw := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		raw = raw << 8 >> 8
		return float64(raw) / scaleFactor(S24LE3)
	case S32LE:
		return float64(int32(binary.LittleEndian.Uint32(b))) / scaleFactor(S32LE)
	case Float32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64LE:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0.0
	}
}

// encodeSample writes one sample and reports whether it saturated.
func encodeSample(v float64, b []byte, format SampleFormat) bool {
	switch format {
	case Float32LE:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return false
	case Float64LE:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return false
	}
	scale := scaleFactor(format)
	scaled := math.Round(v * scale)
	maxPositive := scale - 1.0
	clipped := false
	if scaled > maxPositive {
		scaled = maxPositive
		clipped = true
	} else if scaled < -scale {
		scaled = -scale
		clipped = true
	}
	raw := int32(scaled)
	switch format {
	case S16LE:
		binary.LittleEndian.PutUint16(b, uint16(int16(raw)))
	case S24LE:
		binary.LittleEndian.PutUint32(b, uint32(raw))
	case S24LE3:
		b[0] = byte(raw)
		b[1] = byte(raw >> 8)
		b[2] = byte(raw >> 16)
	case S32LE:
		binary.LittleEndian.PutUint32(b, uint32(raw))
	}
	return clipped
}
