package dsp

import "github.com/mvirtane/flowdsp-go/internal/conf"

// DiffEq is a generic difference equation filter with arbitrary input and
// feedback tap counts, using circular buffers sized by the tap vectors.
type DiffEq struct {
	name string
	x    []float64
	y    []float64
	a    []float64
	b    []float64
	idxX int
	idxY int
}

// NewDiffEq creates a difference equation filter. Empty tap vectors default
// to the identity [1.0].
func NewDiffEq(name string, p conf.FilterParams) *DiffEq {
	a := p.A
	if len(a) == 0 {
		a = []float64{1.0}
	}
	b := p.B
	if len(b) == 0 {
		b = []float64{1.0}
	}
	aCopy := make([]float64, len(a))
	copy(aCopy, a)
	bCopy := make([]float64, len(b))
	copy(bCopy, b)
	return &DiffEq{
		name: name,
		a:    aCopy,
		b:    bCopy,
		x:    make([]float64, len(b)),
		y:    make([]float64, len(a)),
	}
}

func (d *DiffEq) Name() string { return d.name }

// ProcessSingle pushes one sample through the filter.
func (d *DiffEq) ProcessSingle(input float64) float64 {
	bLen := len(d.b)
	aLen := len(d.a)
	out := 0.0
	d.idxX = (d.idxX + 1) % bLen
	d.idxY = (d.idxY + 1) % aLen
	d.x[d.idxX] = input
	for n := 0; n < bLen; n++ {
		nIdx := (d.idxX + bLen - n) % bLen
		out += d.b[n] * d.x[nIdx]
	}
	for p := 1; p < aLen; p++ {
		pIdx := (d.idxY + aLen - p) % aLen
		out -= d.a[p] * d.y[pIdx]
	}
	d.y[d.idxY] = out
	return out
}

func (d *DiffEq) ProcessWaveform(waveform []float64) error {
	for i := range waveform {
		waveform[i] = d.ProcessSingle(waveform[i])
	}
	return nil
}

func (d *DiffEq) UpdateParameters(cfg conf.FilterConfig) {
	if cfg.Type != "DiffEq" {
		panic("invalid config change for DiffEq filter")
	}
	*d = *NewDiffEq(d.name, cfg.Parameters)
}
