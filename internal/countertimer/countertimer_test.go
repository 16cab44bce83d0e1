package countertimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAverager(t *testing.T) {
	t.Parallel()
	a := NewAverager()
	_, ok := a.Average()
	assert.False(t, ok)
	a.AddValue(1.0)
	a.AddValue(2.0)
	a.AddValue(6.0)
	avg, ok := a.Average()
	assert.True(t, ok)
	assert.Equal(t, 3.0, avg)
	a.Restart()
	_, ok = a.Average()
	assert.False(t, ok)
}

func TestStopwatch(t *testing.T) {
	t.Parallel()
	s := NewStopwatch()
	assert.False(t, s.LargerThanMillis(50))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, s.LargerThanMillis(50))
	s.Restart()
	assert.False(t, s.LargerThanMillis(50))
}

func TestStopwatchStoreAndRestart(t *testing.T) {
	t.Parallel()
	s := NewStopwatch()
	assert.Equal(t, time.Duration(0), s.Value)
	time.Sleep(50 * time.Millisecond)
	s.StoreAndRestart()
	assert.Greater(t, s.Value, 30*time.Millisecond)
	assert.Less(t, s.Value, 200*time.Millisecond)
}

func TestTimeAverage(t *testing.T) {
	t.Parallel()
	a := NewTimeAverage()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0.0, a.Average())
	for i := 0; i < 4; i++ {
		a.AddValue(125)
		time.Sleep(10 * time.Millisecond)
	}
	avg := a.Average()
	assert.Greater(t, avg, 4000.0)
	assert.Less(t, avg, 14000.0)
	a.Restart()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0.0, a.Average())
}

func TestSilenceCounter(t *testing.T) {
	t.Parallel()
	counter := NewSilenceCounter(-40.0, 3.0, 48000, 1024)
	limitNbr := int(3.0*48000.0/1024.0 + 0.5)
	assert.Equal(t, limitNbr, counter.silenceLimitNbr)
	assert.InDelta(t, 0.01, counter.silenceThreshold, 1e-9)

	for i := 0; i < 2*limitNbr; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.1))
	}
	for i := 0; i < limitNbr; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.001))
	}
	for i := 0; i < 2*limitNbr; i++ {
		assert.Equal(t, GatePaused, counter.Update(0.001))
	}
	for i := 0; i < 2*limitNbr; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.1))
	}
}

func TestSilenceCounterLargeChunksize(t *testing.T) {
	t.Parallel()
	counter := NewSilenceCounter(-40.0, 1.0, 48000, 23000)
	assert.Equal(t, 2, counter.silenceLimitNbr)
	for i := 0; i < 5; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.1))
	}
	for i := 0; i < 2; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.001))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, GatePaused, counter.Update(0.001))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.1))
	}
}

func TestSilenceCounterDisabled(t *testing.T) {
	t.Parallel()
	counter := NewSilenceCounter(-40.0, 0.0, 48000, 1024)
	for i := 0; i < 100; i++ {
		assert.Equal(t, GateRunning, counter.Update(0.0))
	}
}

func TestValueWatcher(t *testing.T) {
	t.Parallel()
	w := NewValueWatcher(48000.0, 0.04, 3)
	// Inside the band: never triggers.
	for i := 0; i < 10; i++ {
		assert.False(t, w.CheckValue(48500.0))
	}
	// Outside the band for three consecutive checks.
	assert.False(t, w.CheckValue(44100.0))
	assert.False(t, w.CheckValue(44100.0))
	assert.True(t, w.CheckValue(44100.0))
	// The counter restarts after triggering.
	assert.False(t, w.CheckValue(44100.0))
}

func TestValueWatcherResetsInsideBand(t *testing.T) {
	t.Parallel()
	w := NewValueWatcher(48000.0, 0.04, 3)
	assert.False(t, w.CheckValue(44100.0))
	assert.False(t, w.CheckValue(44100.0))
	assert.False(t, w.CheckValue(48000.0))
	assert.False(t, w.CheckValue(44100.0))
	assert.False(t, w.CheckValue(44100.0))
	assert.True(t, w.CheckValue(44100.0))
}

func TestValueHistory(t *testing.T) {
	t.Parallel()
	h := NewValueHistory(2)
	h.AddRecord([]float64{0.1, 0.2})
	h.AddRecord([]float64{0.3, 0.4})
	assert.Equal(t, []float64{0.3, 0.4}, h.Last())
	assert.Equal(t, []float64{0.3, 0.4}, h.Max())

	since := h.Since(time.Now().Add(-time.Minute))
	assert.InDeltaSlice(t, []float64{0.2, 0.3}, since, 1e-12)

	h.Reset()
	assert.Equal(t, []float64{0.0, 0.0}, h.Last())
}
