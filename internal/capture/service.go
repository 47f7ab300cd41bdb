package capture

import (
	"context"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/care/sentry/internal/dispatch"
	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/recorder"
	"github.com/care/sentry/internal/types"
)

// Deliveries is the part of the dispatcher the service waits on.
type Deliveries interface {
	Wait(ctx context.Context) error
	InFlight() int
}

// Service runs the loop next to the optional health server and performs
// the shutdown sequence: finalize, close the source, drain deliveries.
type Service struct {
	Loop            *Loop
	Source          FrameSource
	Deliveries      Deliveries
	Health          *HealthServer
	ShutdownTimeout time.Duration
	// Closers run last, in order, e.g. the MQTT publisher.
	Closers []func()
}

// Run blocks until the loop ends. The returned error is nil on a clean
// stop and CaptureUnavailable when the camera failed.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	healthCtx, stopHealth := context.WithCancel(gctx)
	defer stopHealth()

	g.Go(func() error {
		defer stopHealth()
		return s.Loop.Run(gctx)
	})
	if s.Health != nil {
		g.Go(func() error {
			if err := s.Health.Serve(healthCtx); err != nil {
				slog.Error("health check server failed", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()

	if cerr := s.Source.Close(); cerr != nil {
		slog.Warn("frame source close failed", "error", cerr)
	}
	if st, ok := s.Source.(interface{ Stats() types.StreamStats }); ok {
		stats := st.Stats()
		slog.Info("frame source stopped",
			"source", stats.SourceStream,
			"frames", stats.FrameCount,
			"fps_real", stats.FPSReal,
			"reconnects", stats.Reconnects,
		)
	}
	s.drain()
	for _, c := range s.Closers {
		c()
	}

	return err
}

func (s *Service) drain() {
	if s.Deliveries == nil {
		return
	}
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if n := s.Deliveries.InFlight(); n > 0 {
		slog.Info("waiting for deliveries in flight", "count", n, "timeout", timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Deliveries.Wait(ctx); err != nil {
		slog.Error("shutdown before all deliveries finished; undelivered artifacts stay on disk",
			"error", err,
		)
	}
}

// EventObservers fans event notifications out.
type EventObservers []event.Observer

func (o EventObservers) EventStarted(ev event.Event) {
	for _, x := range o {
		x.EventStarted(ev)
	}
}

func (o EventObservers) EventEnded(ev event.Event) {
	for _, x := range o {
		x.EventEnded(ev)
	}
}

// DeliveryObservers fans delivery notifications out.
type DeliveryObservers []dispatch.Observer

func (o DeliveryObservers) DeliveryAttempted(a types.DeliveryAttempt) {
	for _, x := range o {
		x.DeliveryAttempted(a)
	}
}

func (o DeliveryObservers) DeliveryFinished(d types.Delivery) {
	for _, x := range o {
		x.DeliveryFinished(d)
	}
}

// Recordings adapts a recorder.Recorder to the event machine.
func Recordings(r *recorder.Recorder) event.Recorder {
	return event.RecorderFunc(func(at time.Time, size image.Point) (event.Session, error) {
		h, err := r.Begin(at, size)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}
