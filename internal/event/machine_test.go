package event

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/sentry/internal/types"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeRecording struct {
	path      string
	writes    int
	writeErr  error
	finalized int
	finalErr  error
}

func (r *fakeRecording) Write(types.Frame) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	r.writes++
	return nil
}

func (r *fakeRecording) Finalize() (types.Evidence, error) {
	r.finalized++
	ev := types.Evidence{Video: types.Artifact{Path: r.path, Kind: types.ArtifactVideo}, Frames: uint64(r.writes)}
	if r.finalized > 1 {
		return ev, nil
	}
	return ev, r.finalErr
}

func (r *fakeRecording) Path() string { return r.path }

type fakeRecorder struct {
	started []*fakeRecording
	err     error
	prepare func(*fakeRecording)
}

func (r *fakeRecorder) Begin(at time.Time, size image.Point) (Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	rec := &fakeRecording{path: at.Format("150405.000") + ".mp4"}
	if r.prepare != nil {
		r.prepare(rec)
	}
	r.started = append(r.started, rec)
	return rec, nil
}

type fakeDispatcher struct {
	snapshots   []types.Frame
	snapshotIDs []string
	evidence    []types.Evidence
}

func (d *fakeDispatcher) DispatchSnapshot(id string, f types.Frame) {
	d.snapshotIDs = append(d.snapshotIDs, id)
	d.snapshots = append(d.snapshots, f)
}

func (d *fakeDispatcher) DispatchEvidence(ev types.Evidence) { d.evidence = append(d.evidence, ev) }

type countingObserver struct {
	started, ended []Event
}

func (o *countingObserver) EventStarted(ev Event) { o.started = append(o.started, ev) }
func (o *countingObserver) EventEnded(ev Event)   { o.ended = append(o.ended, ev) }

type harness struct {
	clock *fakeClock
	rec   *fakeRecorder
	disp  *fakeDispatcher
	obs   *countingObserver
	m     *Machine
	seq   uint64
}

func newHarness(buffer time.Duration) *harness {
	h := &harness{
		clock: &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		rec:   &fakeRecorder{},
		disp:  &fakeDispatcher{},
		obs:   &countingObserver{},
	}
	h.m = NewMachine(h.rec, h.disp, buffer, WithClock(h.clock.now), WithObserver(h.obs))
	return h
}

func (h *harness) tick(motion bool) {
	h.seq++
	h.m.Step(types.Frame{Seq: h.seq, Width: 4, Height: 4}, types.MotionResult{Occurred: motion})
}

// run feeds one tick per step, stepping the clock before each tick.
func (h *harness) run(step time.Duration, pattern string) {
	for _, c := range pattern {
		h.clock.advance(step)
		h.tick(c == 'M')
	}
}

func TestEpisodesMergeWithinBuffer(t *testing.T) {
	tests := []struct {
		name       string
		pattern    string // one tick per second: M = motion, . = still
		wantEvents int
	}{
		{name: "single burst", pattern: "MMM.......", wantEvents: 1},
		{name: "gap of four seconds merges", pattern: "MM....MM.......", wantEvents: 1},
		{name: "gap of exactly five seconds merges", pattern: "M.....M.......", wantEvents: 1},
		{name: "gap of six seconds splits", pattern: "M......M.......", wantEvents: 2},
		{name: "three separated bursts", pattern: "M.......M.......M.......", wantEvents: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(5 * time.Second)
			h.run(time.Second, tt.pattern)

			assert.Equal(t, tt.wantEvents, int(h.m.Events()))
			assert.Len(t, h.disp.snapshots, tt.wantEvents, "one snapshot per event")
			assert.Len(t, h.disp.evidence, tt.wantEvents)
			assert.Equal(t, Idle, h.m.State())
		})
	}
}

func TestBufferComparisonIsStrict(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.tick(true)

	h.clock.advance(5 * time.Second)
	h.tick(false)
	assert.Equal(t, Recording, h.m.State(), "elapsed == buffer keeps recording")

	h.clock.advance(time.Nanosecond)
	h.tick(false)
	assert.Equal(t, Idle, h.m.State())
	require.Len(t, h.disp.evidence, 1)
}

func TestSnapshotOncePerEvent(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.run(100*time.Millisecond, "MMMMMMMMMMMMMMMMMMMM")

	assert.Len(t, h.disp.snapshots, 1)
	assert.Equal(t, uint64(1), h.disp.snapshots[0].Seq, "snapshot uses the frame that started the event")

	ev, ok := h.m.Current()
	require.True(t, ok)
	assert.True(t, ev.SnapshotSent)
	assert.Equal(t, Recording, ev.State)
	assert.Equal(t, h.clock.t, ev.LastMotionAt)
}

func TestEveryTickIsRecordedWhileRecording(t *testing.T) {
	h := newHarness(2 * time.Second)
	h.run(time.Second, "MM...")

	require.Len(t, h.rec.started, 1)
	rec := h.rec.started[0]
	// start tick, one more motion tick, then still ticks until elapsed > 2s
	assert.Equal(t, 5, rec.writes)
	assert.Equal(t, 1, rec.finalized)
	assert.Equal(t, uint64(5), h.disp.evidence[0].Frames)
}

func TestEvidenceCarriesEventID(t *testing.T) {
	h := newHarness(time.Second)
	h.run(time.Second, "M..")

	require.Len(t, h.obs.started, 1)
	require.Len(t, h.disp.evidence, 1)
	assert.NotEmpty(t, h.obs.started[0].ID)
	assert.Equal(t, h.obs.started[0].ID, h.disp.evidence[0].EventID)
	assert.Equal(t, []string{h.obs.started[0].ID}, h.disp.snapshotIDs)
	assert.Equal(t, h.obs.started[0].ID, h.obs.ended[0].ID)
}

func TestCloseFinalizesActiveRecording(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.run(time.Second, "MM")
	require.Equal(t, Recording, h.m.State())

	h.m.Close()
	h.m.Close()

	require.Len(t, h.rec.started, 1)
	assert.Equal(t, 1, h.rec.started[0].finalized)
	assert.Len(t, h.disp.evidence, 1)
	assert.Equal(t, Idle, h.m.State())
	_, open := h.m.Current()
	assert.False(t, open)
}

func TestCloseWhenIdleDoesNothing(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.run(time.Second, "...")
	h.m.Close()

	assert.Empty(t, h.disp.evidence)
	assert.Empty(t, h.obs.ended)
}

func TestRecorderFailureDegradesToSnapshotOnly(t *testing.T) {
	h := newHarness(2 * time.Second)
	h.rec.err = types.ResourceError("recorder.start", errors.New("disk full"))

	h.run(time.Second, "MMM")
	assert.Equal(t, Idle, h.m.State())
	assert.Len(t, h.disp.snapshots, 1, "continued motion does not re-send snapshots")

	ev, ok := h.m.Current()
	require.True(t, ok)
	assert.Equal(t, Idle, ev.State)
	assert.True(t, ev.SnapshotSent)
	assert.Empty(t, ev.ArtifactPath)

	h.run(time.Second, "...")
	_, ok = h.m.Current()
	assert.False(t, ok)
	assert.Empty(t, h.disp.evidence)
	assert.Len(t, h.obs.ended, 1)

	h.run(time.Second, "M")
	assert.Len(t, h.disp.snapshots, 2)
}

func TestWriteEscalationFinalizesEarly(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.run(time.Second, "M")
	require.Len(t, h.rec.started, 1)

	h.rec.started[0].writeErr = types.ResourceError("recorder.write", errors.New("10 consecutive write failures"))
	h.run(time.Second, "M")

	assert.Equal(t, Idle, h.m.State())
	assert.Len(t, h.disp.evidence, 1)
	assert.Equal(t, 1, h.rec.started[0].finalized)

	ev, ok := h.m.Current()
	require.True(t, ok, "episode continues without a recording")
	assert.Equal(t, Idle, ev.State)

	h.run(time.Second, "MM")
	assert.Len(t, h.disp.snapshots, 1)
	assert.Len(t, h.rec.started, 1)
}

func TestSingleWriteFailureIsTolerated(t *testing.T) {
	h := newHarness(5 * time.Second)
	h.rec.prepare = func(r *fakeRecording) {
		r.writeErr = types.EncodingError("recorder.write", errors.New("bad frame"))
	}
	h.run(time.Second, "MM")
	assert.Equal(t, Recording, h.m.State())
	assert.Empty(t, h.disp.evidence)
}

func TestFinalizeFailureSkipsVideo(t *testing.T) {
	h := newHarness(time.Second)
	h.rec.prepare = func(r *fakeRecording) {
		r.finalErr = types.EncodingError("recorder.finalize", errors.New("moov atom missing"))
	}
	h.run(time.Second, "M..")

	assert.Empty(t, h.disp.evidence)
	assert.Len(t, h.obs.ended, 1)
}
