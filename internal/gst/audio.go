package gst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/care/sentry/internal/recorder"
)

// AudioRecorder captures WAV clips from a microphone:
//
//	autoaudiosrc|pulsesrc → audioconvert → audioresample → wavenc → filesink
type AudioRecorder struct {
	// Device selects a pulse source. Empty uses the system default.
	Device string
}

var _ recorder.AudioSource = AudioRecorder{}

func audioDescription(device, path string) string {
	src := "autoaudiosrc"
	if device != "" {
		src = "pulsesrc device=" + quoteLocation(device)
	}
	return fmt.Sprintf("%s ! audioconvert ! audioresample ! wavenc ! filesink location=%s", src, quoteLocation(path))
}

// Record blocks until d has elapsed or ctx is done, then finishes the file.
// Stopping early through ctx is not an error.
func (a AudioRecorder) Record(ctx context.Context, path string, d time.Duration) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(audioDescription(a.Device, path))
	if err != nil {
		return fmt.Errorf("failed to create audio pipeline: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("failed to start audio pipeline: %w", err)
	}
	slog.Debug("gst: audio recording started", "path", path, "duration", d)

	clipCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	// watchBus returns nil once clipCtx ends; anything else means the
	// device went away mid-clip.
	if err := watchBus(clipCtx, pipeline, nil); err != nil {
		pipeline.SetState(gst.StateNull)
		if errors.Is(err, errEOS) {
			return errors.New("audio source ended before the clip was complete")
		}
		return err
	}

	return drain(pipeline, func() bool {
		return pipeline.SendEvent(gst.NewEOSEvent())
	}, 3*time.Second)
}
