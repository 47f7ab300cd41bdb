// Package event turns per-frame motion results into discrete motion events,
// each with one snapshot alert and one recording.
package event

import (
	"image"
	"time"

	"github.com/care/sentry/internal/types"
)

// State of the machine as seen from outside.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Event is one continuous motion episode. An event whose recording could
// not be started stays Idle but still debounces further motion.
type Event struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	LastMotionAt time.Time `json:"last_motion_at"`
	State        State     `json:"state"`
	SnapshotSent bool      `json:"snapshot_sent"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
}

// Session is an open recording for the current event.
type Session interface {
	Write(f types.Frame) error
	Finalize() (types.Evidence, error)
	Path() string
}

// Recorder starts recordings.
type Recorder interface {
	Begin(at time.Time, size image.Point) (Session, error)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(at time.Time, size image.Point) (Session, error)

func (f RecorderFunc) Begin(at time.Time, size image.Point) (Session, error) {
	return f(at, size)
}

// Dispatcher hands evidence off for delivery. Both calls must return
// without waiting for the delivery.
type Dispatcher interface {
	DispatchSnapshot(eventID string, frame types.Frame)
	DispatchEvidence(ev types.Evidence)
}

// Observer is told when events begin and end.
type Observer interface {
	EventStarted(ev Event)
	EventEnded(ev Event)
}

type nopObserver struct{}

func (nopObserver) EventStarted(Event) {}
func (nopObserver) EventEnded(Event)   {}
