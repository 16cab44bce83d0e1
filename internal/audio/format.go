// Package audio defines the core data types that cross every stage of the
// processing pipeline: planar sample chunks, wire sample formats, the
// inter-stage messages, and the shared processing parameters and status
// blocks read by the control plane.
package audio

import (
	"strings"

	"github.com/mvirtane/flowdsp-go/internal/errors"
)

// SampleFormat identifies a little-endian interleaved PCM wire format.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	// S16LE is signed 16-bit.
	S16LE
	// S24LE is signed 24-bit stored in the low bytes of a 32-bit word.
	S24LE
	// S24LE3 is signed 24-bit packed in 3 bytes.
	S24LE3
	// S32LE is signed 32-bit.
	S32LE
	// Float32LE is IEEE 754 single precision.
	Float32LE
	// Float64LE is IEEE 754 double precision.
	Float64LE
)

// BytesPerSample returns the storage size of one sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case S16LE:
		return 2
	case S24LE3:
		return 3
	case S24LE, S32LE, Float32LE:
		return 4
	case Float64LE:
		return 8
	default:
		return 0
	}
}

// BitsPerSample returns the number of significant bits of one sample.
func (f SampleFormat) BitsPerSample() int {
	switch f {
	case S16LE:
		return 16
	case S24LE, S24LE3:
		return 24
	case S32LE, Float32LE:
		return 32
	case Float64LE:
		return 64
	default:
		return 0
	}
}

// IsFloat reports whether the format stores floating point samples.
func (f SampleFormat) IsFloat() bool {
	return f == Float32LE || f == Float64LE
}

func (f SampleFormat) String() string {
	switch f {
	case S16LE:
		return "S16LE"
	case S24LE:
		return "S24LE"
	case S24LE3:
		return "S24LE3"
	case S32LE:
		return "S32LE"
	case Float32LE:
		return "FLOAT32LE"
	case Float64LE:
		return "FLOAT64LE"
	default:
		return "UNKNOWN"
	}
}

// ParseSampleFormat converts a config string to a SampleFormat.
func ParseSampleFormat(name string) (SampleFormat, error) {
	switch strings.ToUpper(name) {
	case "S16LE":
		return S16LE, nil
	case "S24LE":
		return S24LE, nil
	case "S24LE3":
		return S24LE3, nil
	case "S32LE":
		return S32LE, nil
	case "FLOAT32LE":
		return Float32LE, nil
	case "FLOAT64LE":
		return Float64LE, nil
	default:
		return FormatUnknown, errors.Newf("unknown sample format %q", name).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("format", name).
			Build()
	}
}
