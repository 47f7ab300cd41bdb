package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/care/sentry/internal/recorder"
	"github.com/care/sentry/internal/types"
)

// VideoWriter opens OpenCV video files with a FourCC codec such as mp4v.
type VideoWriter struct {
	Codec string
}

var _ recorder.SinkFactory = VideoWriter{}

func (v VideoWriter) Open(path string, fps float64, size image.Point) (recorder.Sink, error) {
	codec := v.Codec
	if codec == "" {
		codec = "mp4v"
	}
	w, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, err
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer for %s with codec %s did not open", path, codec)
	}
	return &videoSink{w: w, size: size}, nil
}

type videoSink struct {
	w    *gocv.VideoWriter
	size image.Point
}

func (s *videoSink) Write(f types.Frame) error {
	if f.Width != s.size.X || f.Height != s.size.Y {
		return fmt.Errorf("frame size %dx%d does not match writer size %dx%d", f.Width, f.Height, s.size.X, s.size.Y)
	}
	mat, err := frameToMat(f)
	if err != nil {
		return err
	}
	defer mat.Close()
	return s.w.Write(mat)
}

func (s *videoSink) Close() error {
	return s.w.Close()
}
