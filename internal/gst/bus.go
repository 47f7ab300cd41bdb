package gst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

var errEOS = errors.New("end of stream")

// PipelineError is an error message posted on a pipeline bus.
type PipelineError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

// watchBus polls the pipeline bus until EOS, an error, or ctx is done.
// onPlaying is called each time the pipeline reaches PLAYING.
func watchBus(ctx context.Context, pipeline *gst.Pipeline, onPlaying func()) error {
	bus := pipeline.GetPipelineBus()
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return errEOS

		case gst.MessageError:
			gerr := msg.ParseError()
			perr := &PipelineError{Category: ClassifyGError(gerr)}
			if gerr != nil {
				perr.Message = gerr.Error()
				perr.Debug = gerr.DebugString()
			}
			return perr

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, cur := msg.ParseStateChanged()
				slog.Debug("gst: pipeline state changed", "from", old, "to", cur)
				if cur == gst.StatePlaying && onPlaying != nil {
					onPlaying()
				}
			}
		}
	}
}

// drain sends EOS into the pipeline and waits for it to reach the sinks so
// muxers can write their trailers, then tears the pipeline down.
func drain(pipeline *gst.Pipeline, sendEOS func() bool, timeout time.Duration) error {
	defer pipeline.SetState(gst.StateNull)

	if !sendEOS() {
		return fmt.Errorf("gst: pipeline refused end of stream")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := watchBus(ctx, pipeline, nil)
	switch {
	case errors.Is(err, errEOS):
		return nil
	case err != nil:
		return err
	default:
		return fmt.Errorf("gst: timed out after %s waiting for end of stream", timeout)
	}
}
