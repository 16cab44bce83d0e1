package dsp

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/mvirtane/flowdsp-go/internal/conf"
	"github.com/mvirtane/flowdsp-go/internal/errors"
)

func coeffError(err error, filename string) error {
	return errors.Wrap(err).
		Component("dsp").
		Category(errors.CategoryFileIO).
		Context("filename", filename).
		Build()
}

// LoadCoefficients returns the impulse response of a Conv filter, either
// the inline values or the contents of the coefficient file in the
// configured format.
func LoadCoefficients(p *conf.FilterParams) ([]float64, error) {
	if len(p.Values) > 0 {
		out := make([]float64, len(p.Values))
		copy(out, p.Values)
		return out, nil
	}
	switch p.Format {
	case "", "text":
		return readTextCoeffs(p.Filename)
	case "f64le":
		return readRawCoeffs(p.Filename, 8, func(b []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		})
	case "f32le":
		return readRawCoeffs(p.Filename, 4, func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		})
	case "s16le":
		return readRawCoeffs(p.Filename, 2, func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
		})
	case "wav":
		return readWavCoeffs(p.Filename)
	default:
		return nil, errors.Newf("unknown coefficient format %q", p.Format).
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}
}

// readTextCoeffs reads one coefficient per line.
func readTextCoeffs(filename string) ([]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, coeffError(err, filename)
	}
	defer f.Close()

	var coefficients []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, coeffError(err, filename)
		}
		coefficients = append(coefficients, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, coeffError(err, filename)
	}
	return coefficients, nil
}

func readRawCoeffs(filename string, sampleBytes int, decode func([]byte) float64) ([]float64, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, coeffError(err, filename)
	}
	count := len(data) / sampleBytes
	coefficients := make([]float64, count)
	for i := 0; i < count; i++ {
		coefficients[i] = decode(data[i*sampleBytes : (i+1)*sampleBytes])
	}
	return coefficients, nil
}

// readWavCoeffs reads the first channel of a WAV file as the impulse
// response.
func readWavCoeffs(filename string) ([]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, coeffError(err, filename)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("%q is not a valid WAV file", filename).
			Component("dsp").
			Category(errors.CategoryFileIO).
			Context("filename", filename).
			Build()
	}
	divisor := math.Pow(2, float64(decoder.BitDepth-1))
	channels := int(decoder.NumChans)
	buf := &goaudio.IntBuffer{
		Data:   make([]int, 4096*channels),
		Format: &goaudio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}
	var coefficients []float64
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, coeffError(err, filename)
		}
		if n == 0 {
			break
		}
		for i := 0; i+channels <= n; i += channels {
			coefficients = append(coefficients, float64(buf.Data[i])/divisor)
		}
	}
	return coefficients, nil
}
