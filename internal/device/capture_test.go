package device

import (
	"encoding/binary"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvirtane/flowdsp-go/internal/audio"
)

// scriptedReader plays back a list of canned read results.
type scriptedReader struct {
	steps []scriptedStep
	pos   int
}

type scriptedStep struct {
	// value fills the buffer as S16LE samples.
	value  int16
	result readResult
	// short truncates the read to this many bytes when non-zero.
	short int
}

func (r *scriptedReader) Read(buf []byte) (int, readResult, error) {
	if r.pos >= len(r.steps) {
		return 0, readEOF, nil
	}
	step := r.steps[r.pos]
	r.pos++
	if step.result == readTimeout && step.short == 0 {
		return 0, readTimeout, nil
	}
	n := len(buf)
	if step.short > 0 {
		n = step.short
	}
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(step.value))
	}
	return n, step.result, nil
}

func (r *scriptedReader) Close() error { return nil }

func testCaptureParams() captureParams {
	return captureParams{
		channels:          1,
		chunksize:         64,
		captureSamplerate: 48000,
		format:            audio.S16LE,
		silenceThreshold:  -40.0,
		silenceTimeout:    0.0,
		rateMeasureSecs:   1.0,
		resamplingRatio:   1.0,
	}
}

// runCaptureLoop drives the loop until it returns, collecting the audio
// messages.
func runCaptureLoop(t *testing.T, reader blockReader, p captureParams,
	commands chan CommandMessage) ([]audio.Message, []StatusMessage) {
	t.Helper()
	audioOut := make(chan audio.Message, 256)
	status := make(chan StatusMessage, 64)
	captureStatus := audio.NewCaptureStatus(1000, p.channels)
	captureStatus.Lock()
	captureStatus.UsedChannels = []bool{true}
	captureStatus.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		captureLoop(reader, p, audioOut, status, commands, captureStatus, slog.Default())
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("capture loop did not finish")
	}

	close(audioOut)
	var messages []audio.Message
	for msg := range audioOut {
		messages = append(messages, msg)
	}
	close(status)
	var statuses []StatusMessage
	for msg := range status {
		statuses = append(statuses, msg)
	}
	return messages, statuses
}

func kinds(messages []audio.Message) []audio.MessageKind {
	out := make([]audio.MessageKind, len(messages))
	for i, m := range messages {
		out[i] = m.Kind
	}
	return out
}

func TestCaptureLoopReadsUntilEOF(t *testing.T) {
	t.Parallel()
	reader := &scriptedReader{steps: []scriptedStep{
		{value: 1000, result: readComplete},
		{value: 1000, result: readComplete},
	}}
	commands := make(chan CommandMessage)
	messages, statuses := runCaptureLoop(t, reader, testCaptureParams(), commands)

	require.Len(t, messages, 3)
	assert.Equal(t, []audio.MessageKind{audio.KindAudio, audio.KindAudio, audio.KindEndOfStream}, kinds(messages))
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusCaptureDone, statuses[len(statuses)-1].Kind)
	assert.Equal(t, 64, messages[0].Chunk.Frames)
	assert.Equal(t, 64, messages[0].Chunk.ValidFrames)
}

// After the silence timeout the loop emits Pause instead of Audio, and the
// first loud chunk resumes Audio.
func TestCaptureLoopSilenceGate(t *testing.T) {
	t.Parallel()
	p := testCaptureParams()
	// Timeout of two chunks.
	p.silenceTimeout = 2.0 * 64.0 / 48000.0

	var steps []scriptedStep
	// Six quiet chunks, then two loud ones.
	for i := 0; i < 6; i++ {
		steps = append(steps, scriptedStep{value: 0, result: readComplete})
	}
	steps = append(steps,
		scriptedStep{value: 8000, result: readComplete},
		scriptedStep{value: 8000, result: readComplete},
	)
	commands := make(chan CommandMessage)
	messages, _ := runCaptureLoop(t, &scriptedReader{steps: steps}, p, commands)

	got := kinds(messages)
	// Quiet chunks within the timeout still pass as audio.
	require.Len(t, got, 9)
	assert.Equal(t, audio.KindAudio, got[0])
	assert.Equal(t, audio.KindAudio, got[1])
	// Beyond the timeout: paused.
	assert.Equal(t, audio.KindPause, got[2])
	assert.Equal(t, audio.KindPause, got[5])
	// Loud input resumes within one chunk.
	assert.Equal(t, audio.KindAudio, got[6])
	assert.Equal(t, audio.KindAudio, got[7])
	assert.Equal(t, audio.KindEndOfStream, got[8])
}

// A read timeout sends Pause and flips the state to Stalled; data flowing
// again restores it.
func TestCaptureLoopStalled(t *testing.T) {
	t.Parallel()
	reader := &scriptedReader{steps: []scriptedStep{
		{value: 1000, result: readComplete},
		{result: readTimeout},
		{value: 1000, result: readComplete},
	}}
	commands := make(chan CommandMessage)
	messages, _ := runCaptureLoop(t, reader, testCaptureParams(), commands)
	got := kinds(messages)
	require.Len(t, got, 4)
	assert.Equal(t, []audio.MessageKind{
		audio.KindAudio, audio.KindPause, audio.KindAudio, audio.KindEndOfStream,
	}, got)
}

// An exit command drains with an EndOfStream and a CaptureDone status.
func TestCaptureLoopExitCommand(t *testing.T) {
	t.Parallel()
	commands := make(chan CommandMessage, 1)
	commands <- CommandMessage{Kind: CommandExit}
	// The reader would deliver forever; the command stops the loop first.
	reader := &scriptedReader{steps: make([]scriptedStep, 1000)}
	messages, statuses := runCaptureLoop(t, reader, testCaptureParams(), commands)
	require.NotEmpty(t, messages)
	assert.Equal(t, audio.KindEndOfStream, messages[len(messages)-1].Kind)
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusCaptureDone, statuses[0].Kind)
}

// A partial final read is zero padded and accounted in ValidFrames.
func TestCaptureLoopShortFinalRead(t *testing.T) {
	t.Parallel()
	reader := &scriptedReader{steps: []scriptedStep{
		{value: 1000, result: readComplete},
		{value: 1000, result: readEOF, short: 64}, // half a chunk
	}}
	commands := make(chan CommandMessage)
	messages, _ := runCaptureLoop(t, reader, testCaptureParams(), commands)
	require.GreaterOrEqual(t, len(messages), 3)
	partial := messages[1]
	require.Equal(t, audio.KindAudio, partial.Kind)
	assert.Equal(t, 64, partial.Chunk.Frames)
	assert.Equal(t, 32, partial.Chunk.ValidFrames)
	assert.Equal(t, 0.0, partial.Chunk.Waveforms[0][63])
}

// extra_samples appends a zero tail before the end of stream.
func TestCaptureLoopExtraSamples(t *testing.T) {
	t.Parallel()
	p := testCaptureParams()
	p.extraSamples = 128 // two chunks of tail
	reader := &scriptedReader{steps: []scriptedStep{
		{value: 1000, result: readComplete},
	}}
	commands := make(chan CommandMessage)
	messages, _ := runCaptureLoop(t, reader, p, commands)
	got := kinds(messages)
	assert.Equal(t, []audio.MessageKind{
		audio.KindAudio, audio.KindAudio, audio.KindAudio, audio.KindEndOfStream,
	}, got)
	// The tail is silence.
	assert.Equal(t, 0.0, messages[1].Chunk.Waveforms[0][0])
}