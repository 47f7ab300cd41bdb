package types

import (
	"path/filepath"
	"time"
)

// ArtifactKind classifies a piece of evidence.
type ArtifactKind int

const (
	ArtifactSnapshot ArtifactKind = iota
	ArtifactVideo
	ArtifactAudio
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactSnapshot:
		return "snapshot"
	case ArtifactVideo:
		return "video"
	case ArtifactAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Artifact is a finished piece of evidence. Snapshots live in memory, so
// their Path is only a display name.
type Artifact struct {
	Path       string
	Kind       ArtifactKind
	ProducedAt time.Time
	// EventID is empty for files re-sent by hand.
	EventID string
}

// Name returns the base file name of the artifact.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransientFailure
	OutcomeFatalFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeFatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// DeliveryAttempt records a single try at handing an artifact to the alert
// transport. It lives only for the duration of the dispatch call.
type DeliveryAttempt struct {
	Artifact      Artifact
	AttemptNumber int
	MaxAttempts   int
	Outcome       Outcome
	Err           error
}

// Delivery is the final result for one artifact. Artifacts sent together
// share the attempt count of their message.
type Delivery struct {
	Artifact  Artifact
	Delivered bool
	Attempts  int
}

// PendingArtifact is an artifact produced by an independent task, such as
// an audio clip that keeps recording after the video has been closed.
type PendingArtifact interface {
	// Done is closed once the artifact is finished or has failed.
	Done() <-chan struct{}
	// Result is only meaningful after Done is closed.
	Result() (Artifact, error)
}

// Evidence is everything one motion event produced, handed by value to the
// dispatcher when the event ends.
type Evidence struct {
	EventID string
	Video   Artifact
	Frames  uint64
	Audio   PendingArtifact
}
