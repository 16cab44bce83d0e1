// Package observability exposes engine state as prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/engine"
)

// Metrics registers gauge functions that sample the engine's status blocks
// on scrape, so no updater goroutine is needed.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics builds the metric set for an engine.
func NewMetrics(e *engine.Engine) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_capture_samplerate_hz",
			Help: "Measured capture sample rate",
		},
		func() float64 {
			if cs := e.CaptureStatus(); cs != nil {
				cs.RLock()
				defer cs.RUnlock()
				return float64(cs.MeasuredSamplerate)
			}
			return 0
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_capture_rate_adjust",
			Help: "Current rate adjust factor applied to the resampler",
		},
		func() float64 {
			if cs := e.CaptureStatus(); cs != nil {
				cs.RLock()
				defer cs.RUnlock()
				return cs.RateAdjust
			}
			return 0
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_capture_signal_range",
			Help: "Peak to peak range of the capture signal",
		},
		func() float64 {
			if cs := e.CaptureStatus(); cs != nil {
				cs.RLock()
				defer cs.RUnlock()
				return cs.SignalRange
			}
			return 0
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_processing_state",
			Help: "Processing state (0 running, 1 paused, 2 inactive, 3 starting, 4 stalled)",
		},
		func() float64 {
			if cs := e.CaptureStatus(); cs != nil {
				cs.RLock()
				defer cs.RUnlock()
				return float64(cs.State)
			}
			return float64(audio.StateInactive)
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_playback_buffer_level_frames",
			Help: "Average playback buffer fill level",
		},
		func() float64 {
			if ps := e.PlaybackStatus(); ps != nil {
				ps.RLock()
				defer ps.RUnlock()
				return float64(ps.BufferLevel)
			}
			return 0
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_playback_clipped_samples_total",
			Help: "Samples clipped during playback encoding",
		},
		func() float64 {
			if ps := e.PlaybackStatus(); ps != nil {
				ps.RLock()
				defer ps.RUnlock()
				return float64(ps.ClippedSamples)
			}
			return 0
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_processing_load",
			Help: "Share of real time spent processing",
		},
		func() float64 {
			return float64(e.Params.ProcessingLoad())
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowdsp_volume_db",
			Help: "Target volume of the main fader",
		},
		func() float64 {
			return float64(e.Params.TargetVolume(0))
		},
	))

	return &Metrics{registry: registry}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
