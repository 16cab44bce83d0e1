package audio

import (
	"math"
	"sync/atomic"
)

// NumFaders is the number of independent volume controls. Fader 0 is the
// main volume; faders 1-4 are auxiliary and only act on filters configured
// to use them.
const NumFaders = 5

const (
	// DefaultVolume is the initial fader setting in dB.
	DefaultVolume float32 = 0.0
	// DefaultMute is the initial mute state.
	DefaultMute = false
)

// ProcessingParameters is the process-wide shared mutable state. Volumes are
// f32 dB values bit-punned through atomic u32 so the hot path never takes a
// lock; a torn read at worst makes one chunk ramp toward an intermediate
// target.
type ProcessingParameters struct {
	targetVolume   [NumFaders]atomic.Uint32
	currentVolume  [NumFaders]atomic.Uint32
	mute           [NumFaders]atomic.Bool
	processingLoad atomic.Uint32
}

// NewProcessingParameters creates parameters with the given initial fader
// settings.
func NewProcessingParameters(volumes *[NumFaders]float32, mutes *[NumFaders]bool) *ProcessingParameters {
	p := &ProcessingParameters{}
	for i := 0; i < NumFaders; i++ {
		p.targetVolume[i].Store(math.Float32bits(volumes[i]))
		p.currentVolume[i].Store(math.Float32bits(volumes[i]))
		p.mute[i].Store(mutes[i])
	}
	return p
}

// DefaultProcessingParameters creates parameters with all faders at 0 dB,
// unmuted.
func DefaultProcessingParameters() *ProcessingParameters {
	volumes := [NumFaders]float32{}
	mutes := [NumFaders]bool{}
	return NewProcessingParameters(&volumes, &mutes)
}

// TargetVolume returns the requested volume of a fader in dB.
func (p *ProcessingParameters) TargetVolume(fader int) float32 {
	return math.Float32frombits(p.targetVolume[fader].Load())
}

// SetTargetVolume requests a new volume for a fader in dB.
func (p *ProcessingParameters) SetTargetVolume(fader int, target float32) {
	p.targetVolume[fader].Store(math.Float32bits(target))
}

// CurrentVolume returns the volume a fader has actually reached, written
// back by the Volume filter at the end of each ramp step.
func (p *ProcessingParameters) CurrentVolume(fader int) float32 {
	return math.Float32frombits(p.currentVolume[fader].Load())
}

// SetCurrentVolume records the reached volume of a fader.
func (p *ProcessingParameters) SetCurrentVolume(fader int, current float32) {
	p.currentVolume[fader].Store(math.Float32bits(current))
}

// IsMute returns the mute state of a fader.
func (p *ProcessingParameters) IsMute(fader int) bool {
	return p.mute[fader].Load()
}

// SetMute sets the mute state of a fader.
func (p *ProcessingParameters) SetMute(fader int, mute bool) {
	p.mute[fader].Store(mute)
}

// ToggleMute flips the mute state of a fader and returns the new state.
func (p *ProcessingParameters) ToggleMute(fader int) bool {
	for {
		old := p.mute[fader].Load()
		if p.mute[fader].CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Volumes returns the target volumes of all faders.
func (p *ProcessingParameters) Volumes() [NumFaders]float32 {
	var out [NumFaders]float32
	for i := 0; i < NumFaders; i++ {
		out[i] = p.TargetVolume(i)
	}
	return out
}

// Mutes returns the mute states of all faders.
func (p *ProcessingParameters) Mutes() [NumFaders]bool {
	var out [NumFaders]bool
	for i := 0; i < NumFaders; i++ {
		out[i] = p.IsMute(i)
	}
	return out
}

// SetProcessingLoad stores the measured processing load as a fraction of
// real time.
func (p *ProcessingParameters) SetProcessingLoad(load float32) {
	p.processingLoad.Store(math.Float32bits(load))
}

// ProcessingLoad returns the measured processing load.
func (p *ProcessingParameters) ProcessingLoad() float32 {
	return math.Float32frombits(p.processingLoad.Load())
}
