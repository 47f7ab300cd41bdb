package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/types"
)

func TestFrameCounters(t *testing.T) {
	m := New()
	m.FrameProcessed(types.MotionResult{Occurred: true}, 2*time.Millisecond)
	m.FrameProcessed(types.MotionResult{}, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.motionFrames))
}

func TestEventLifecycle(t *testing.T) {
	m := New()
	m.EventStarted(event.Event{State: event.Recording})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recording))

	m.EventEnded(event.Event{})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.recording))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsEnded))

	// snapshot-only episodes never open a recording
	m.EventStarted(event.Event{State: event.Idle})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.recording))
}

func TestDeliveryCounters(t *testing.T) {
	m := New()
	video := types.Artifact{Kind: types.ArtifactVideo}

	m.DeliveryAttempted(types.DeliveryAttempt{Artifact: video, Outcome: types.OutcomeTransientFailure})
	m.DeliveryAttempted(types.DeliveryAttempt{Artifact: video, Outcome: types.OutcomeSuccess})
	m.DeliveryFinished(types.Delivery{Artifact: video, Delivered: true, Attempts: 2})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("video", "transient_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("video", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("video", "delivered")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.FrameProcessed(types.MotionResult{}, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sentry_frames_processed_total 1")
}
