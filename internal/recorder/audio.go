package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/care/sentry/internal/types"
)

// Clip is an audio recording running on its own goroutine. It implements
// types.PendingArtifact.
type Clip struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}

	artifact types.Artifact
	err      error
}

func startClip(src AudioSource, path string, d time.Duration, now func() time.Time) *Clip {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Clip{
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		defer cancel()

		err := src.Record(ctx, path, d)
		if err != nil {
			c.err = types.ResourceError("recorder.audio", err)
			slog.Error("audio clip failed", "path", path, "error", err)
			return
		}
		c.artifact = types.Artifact{Path: path, Kind: types.ArtifactAudio, ProducedAt: now()}
		slog.Info("audio clip finished", "path", path)
	}()

	return c
}

// Stop ends the clip early. The file written so far is kept.
func (c *Clip) Stop() {
	c.cancel()
}

func (c *Clip) Done() <-chan struct{} {
	return c.done
}

func (c *Clip) Result() (types.Artifact, error) {
	select {
	case <-c.done:
		return c.artifact, c.err
	default:
		return types.Artifact{}, context.DeadlineExceeded
	}
}
