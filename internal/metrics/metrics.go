// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/types"
)

const namespace = "sentry"

// Metrics observes the capture loop, event machine and dispatcher. It
// owns its registry so tests and multiple instances do not collide.
type Metrics struct {
	registry *prometheus.Registry

	frames        prometheus.Counter
	motionFrames  prometheus.Counter
	detectSeconds prometheus.Histogram
	eventsStarted prometheus.Counter
	eventsEnded   prometheus.Counter
	recording     prometheus.Gauge
	attempts      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames run through motion detection.",
		}),
		motionFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "motion_frames_total",
			Help:      "Frames in which motion was detected.",
		}),
		detectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "Time spent detecting motion per frame.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		eventsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_started_total",
			Help:      "Motion events started.",
		}),
		eventsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ended_total",
			Help:      "Motion events ended.",
		}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "1 while a recording is open.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by artifact kind and outcome.",
		}, []string{"kind", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Finished deliveries by artifact kind and result.",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.frames,
		m.motionFrames,
		m.detectSeconds,
		m.eventsStarted,
		m.eventsEnded,
		m.recording,
		m.attempts,
		m.deliveries,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

func (m *Metrics) FrameProcessed(res types.MotionResult, took time.Duration) {
	m.frames.Inc()
	m.detectSeconds.Observe(took.Seconds())
	if res.Occurred {
		m.motionFrames.Inc()
	}
}

func (m *Metrics) EventStarted(ev event.Event) {
	m.eventsStarted.Inc()
	if ev.State == event.Recording {
		m.recording.Set(1)
	}
}

func (m *Metrics) EventEnded(event.Event) {
	m.eventsEnded.Inc()
	m.recording.Set(0)
}

func (m *Metrics) DeliveryAttempted(a types.DeliveryAttempt) {
	m.attempts.WithLabelValues(a.Artifact.Kind.String(), a.Outcome.String()).Inc()
}

func (m *Metrics) DeliveryFinished(d types.Delivery) {
	result := "undelivered"
	if d.Delivered {
		result = "delivered"
	}
	m.deliveries.WithLabelValues(d.Artifact.Kind.String(), result).Inc()
}
