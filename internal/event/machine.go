package event

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/care/sentry/internal/types"
)

// Machine is the motion event state machine. It is driven by one goroutine
// and does its timing on the frame ticks, never on its own timers.
type Machine struct {
	recorder   Recorder
	dispatcher Dispatcher
	observer   Observer
	buffer     time.Duration
	now        func() time.Time

	current *Event
	rec     Session
	events  uint64
}

type Option func(*Machine)

// WithClock replaces time.Now. The default clock carries a monotonic reading.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithObserver(o Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewMachine creates an idle machine. An event ends once no motion has been
// seen for strictly longer than buffer.
func NewMachine(rec Recorder, disp Dispatcher, buffer time.Duration, opts ...Option) *Machine {
	m := &Machine{
		recorder:   rec,
		dispatcher: disp,
		observer:   nopObserver{},
		buffer:     buffer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Step feeds one tick. frame is the current frame and res its comparison
// with the previous one.
func (m *Machine) Step(frame types.Frame, res types.MotionResult) {
	now := m.now()

	if res.Occurred {
		if m.current == nil {
			m.begin(frame, now)
		} else {
			m.current.LastMotionAt = now
		}
	}

	if m.rec != nil {
		m.write(frame)
	}

	if m.current != nil && now.Sub(m.current.LastMotionAt) > m.buffer {
		m.end("motion buffer elapsed")
	}
}

// Close ends any open event, finalizing and handing off its recording.
// It is safe to call more than once.
func (m *Machine) Close() {
	if m.current != nil {
		m.end("capture stopped")
	}
}

// State reports Recording while a recording is open.
func (m *Machine) State() State {
	if m.rec != nil {
		return Recording
	}
	return Idle
}

// Current returns a copy of the open event.
func (m *Machine) Current() (Event, bool) {
	if m.current == nil {
		return Event{}, false
	}
	return *m.current, true
}

// Events returns how many events have started.
func (m *Machine) Events() uint64 {
	return m.events
}

func (m *Machine) begin(frame types.Frame, now time.Time) {
	ev := &Event{
		ID:           uuid.NewString(),
		StartedAt:    now,
		LastMotionAt: now,
		State:        Idle,
	}
	m.current = ev
	m.events++

	m.dispatcher.DispatchSnapshot(ev.ID, frame)
	ev.SnapshotSent = true

	rec, err := m.recorder.Begin(now, frame.Size())
	if err != nil {
		slog.Error("recording unavailable, event degraded to snapshot only",
			"event_id", ev.ID,
			"error", err,
		)
	} else {
		m.rec = rec
		ev.State = Recording
		ev.ArtifactPath = rec.Path()
	}

	slog.Info("motion event started",
		"event_id", ev.ID,
		"state", ev.State.String(),
		"artifact", ev.ArtifactPath,
	)
	m.observer.EventStarted(*ev)
}

func (m *Machine) write(frame types.Frame) {
	err := m.rec.Write(frame)
	if err == nil {
		return
	}
	if errors.Is(err, types.ErrResourceUnavailable) {
		slog.Error("recording lost, continuing event as snapshot only",
			"event_id", m.current.ID,
			"error", err,
		)
		m.finishRecording()
		return
	}
	slog.Warn("frame not recorded", "event_id", m.current.ID, "seq", frame.Seq, "error", err)
}

func (m *Machine) end(reason string) {
	ev := m.current
	if m.rec != nil {
		m.finishRecording()
	}
	m.current = nil

	slog.Info("motion event ended",
		"event_id", ev.ID,
		"reason", reason,
		"duration", ev.LastMotionAt.Sub(ev.StartedAt),
	)
	m.observer.EventEnded(*ev)
}

// finishRecording finalizes the open recording and transfers its evidence
// to the dispatcher. The machine keeps no reference to it afterwards.
func (m *Machine) finishRecording() {
	rec := m.rec
	m.rec = nil
	m.current.State = Idle

	evidence, err := rec.Finalize()
	evidence.EventID = m.current.ID
	if err != nil {
		slog.Error("recording could not be finalized, skipping video",
			"event_id", m.current.ID,
			"artifact", evidence.Video.Path,
			"error", err,
		)
		evidence.Video = types.Artifact{}
		if evidence.Audio == nil {
			return
		}
	}
	m.dispatcher.DispatchEvidence(evidence)
}
