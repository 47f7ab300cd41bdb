package gst

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/sentry/internal/recorder"
	"github.com/care/sentry/internal/types"
)

// VideoWriter opens H.264/MP4 sinks:
//
//	appsrc(BGR) → videoconvert → x264enc → h264parse → mp4mux → filesink
type VideoWriter struct {
	// DrainTimeout bounds how long Close waits for the muxer to finish.
	DrainTimeout time.Duration
}

var _ recorder.SinkFactory = VideoWriter{}

func writerDescription(path string, fps float64, size image.Point) string {
	return fmt.Sprintf(
		"appsrc name=src is-live=true do-timestamp=true format=time caps=\"%s\" ! "+
			"videoconvert ! x264enc tune=zerolatency speed-preset=veryfast ! h264parse ! "+
			"mp4mux ! filesink location=%s",
		videoCaps(size.X, size.Y, fps), quoteLocation(path),
	)
}

func (w VideoWriter) Open(path string, fps float64, size image.Point) (recorder.Sink, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(writerDescription(path, fps, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create writer pipeline: %w", err)
	}
	el, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("writer pipeline has no appsrc: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start writer pipeline: %w", err)
	}

	drainTimeout := w.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}

	slog.Debug("gst: video writer opened", "path", path, "fps", fps, "size", size)
	return &videoSink{
		pipeline: pipeline,
		src:      app.SrcFromElement(el),
		size:     size,
		timeout:  drainTimeout,
	}, nil
}

type videoSink struct {
	pipeline *gst.Pipeline
	src      *app.Source
	size     image.Point
	timeout  time.Duration
	closed   bool
}

func (v *videoSink) Write(f types.Frame) error {
	if v.closed {
		return errors.New("video sink closed")
	}
	if f.Width != v.size.X || f.Height != v.size.Y {
		return fmt.Errorf("frame size %dx%d does not match writer size %dx%d", f.Width, f.Height, v.size.X, v.size.Y)
	}
	if ret := v.src.PushBuffer(gst.NewBufferFromBytes(f.Data)); ret != gst.FlowOK {
		return fmt.Errorf("appsrc push failed: %v", ret)
	}
	return nil
}

func (v *videoSink) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	return drain(v.pipeline, func() bool {
		return v.src.EndStream() == gst.FlowOK
	}, v.timeout)
}
