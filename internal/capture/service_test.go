package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/sentry/internal/stream"
	"github.com/care/sentry/internal/types"
)

type fakeDeliveries struct {
	waited   bool
	inFlight int
}

func (d *fakeDeliveries) Wait(context.Context) error {
	d.waited = true
	return nil
}

func (d *fakeDeliveries) InFlight() int { return d.inFlight }

type closeTracker struct {
	FrameSource
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return c.FrameSource.Close()
}

func TestServiceShutdownSequence(t *testing.T) {
	h := newHarness(t)
	src := &closeTracker{FrameSource: synthetic(stream.Segment{Frames: 5, Motion: true})}
	deliveries := &fakeDeliveries{inFlight: 1}
	var order []string

	svc := &Service{
		Loop:            NewLoop(src, detector(), h.machine, 1000),
		Source:          src,
		Deliveries:      deliveries,
		ShutdownTimeout: time.Second,
		Closers:         []func(){func() { order = append(order, "mqtt") }},
	}

	require.NoError(t, svc.Run(context.Background()))
	assert.True(t, src.closed)
	assert.True(t, deliveries.waited)
	assert.Equal(t, []string{"mqtt"}, order)
	require.Len(t, h.disp.evidence, 1)
}

func TestServiceReturnsCaptureFailure(t *testing.T) {
	h := newHarness(t)
	src := synthetic(stream.Segment{Frames: 1})
	svc := &Service{
		Loop:   NewLoop(src, detector(), h.machine, 1000),
		Source: src,
	}
	assert.ErrorIs(t, svc.Run(context.Background()), types.ErrCaptureUnavailable)
}

func TestServiceStopsHealthServerWithLoop(t *testing.T) {
	h := newHarness(t)
	src := synthetic(stream.Segment{Frames: 3})
	loop := NewLoop(src, detector(), h.machine, 1000)
	svc := &Service{
		Loop:   loop,
		Source: src,
		Health: NewHealthServer("127.0.0.1:0", loop, nil, nil),
	}

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop after end of stream")
	}
}

func TestReadiness(t *testing.T) {
	loop := NewLoop(nil, nil, nil, 1000)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	hs := NewHealthServer(":0", loop, func() int { return 2 }, http.NotFoundHandler())
	hs.started = now.Add(-time.Minute)
	hs.now = func() time.Time { return now }

	get := func(path string) (*httptest.ResponseRecorder, HealthStatus) {
		rec := httptest.NewRecorder()
		hs.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body HealthStatus
		if path == "/readiness" {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		}
		return rec, body
	}

	rec, body := get("/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, 2, body.InFlight)
	assert.Equal(t, int64(60), body.UptimeSeconds)

	loop.running.Store(true)
	loop.recording.Store(true)
	loop.frames.Store(42)
	loop.lastFrameAt.Store(now.Add(-time.Second).UnixNano())

	rec, body = get("/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "recording", body.State)
	assert.Equal(t, uint64(42), body.Frames)
	assert.InDelta(t, 1.0, body.LastFrameAgeS, 0.001)

	loop.lastFrameAt.Store(now.Add(-time.Minute).UnixNano())
	_, body = get("/readiness")
	assert.Equal(t, "degraded", body.Status)

	rec, _ = get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)

	rec, _ = get("/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
