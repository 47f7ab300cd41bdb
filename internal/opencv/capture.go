// Package opencv holds the gocv backends: webcam capture, motion
// primitives, the video writer, JPEG encoding and the preview window.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/care/sentry/internal/types"
)

// Webcam reads BGR frames from a local capture device.
type Webcam struct {
	cap        *gocv.VideoCapture
	mat        gocv.Mat
	index      int
	source     string
	fpsTarget  float64
	resolution string

	mu     sync.Mutex
	seq    uint64
	start  time.Time
	closed bool
}

// OpenWebcam opens device index and requests width x height. Drivers may
// ignore the request; frames carry the size actually delivered.
func OpenWebcam(index, width, height int) (*Webcam, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, types.CaptureError("opencv.open", fmt.Errorf("device %d: %w", index, err))
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, types.CaptureError("opencv.open", fmt.Errorf("device %d could not be opened", index))
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	w := &Webcam{
		cap:        vc,
		mat:        gocv.NewMat(),
		index:      index,
		source:     fmt.Sprintf("webcam%d", index),
		fpsTarget:  vc.Get(gocv.VideoCaptureFPS),
		resolution: fmt.Sprintf("%.0fx%.0f", vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight)),
		start:      time.Now(),
	}
	slog.Info("webcam opened",
		"device", index,
		"resolution", w.resolution,
		"fps", w.fpsTarget,
	)
	return w, nil
}

// Read blocks until the device delivers a frame. A failed read is
// CaptureUnavailable.
func (w *Webcam) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.Frame{}, types.ErrEndOfStream
	}

	if ok := w.cap.Read(&w.mat); !ok || w.mat.Empty() {
		return types.Frame{}, types.CaptureError("opencv.read", fmt.Errorf("device %d returned no frame", w.index))
	}
	data, err := matToBGR(w.mat)
	if err != nil {
		return types.Frame{}, types.CaptureError("opencv.read", err)
	}

	w.seq++
	return types.Frame{
		Seq:          w.seq,
		Timestamp:    time.Now(),
		Width:        w.mat.Cols(),
		Height:       w.mat.Rows(),
		Data:         data,
		SourceStream: w.source,
		TraceID:      uuid.New().String(),
	}, nil
}

func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	slog.Info("webcam closed", "device", w.index, "frames", w.seq, "uptime", time.Since(w.start))
	return errors.Join(w.mat.Close(), w.cap.Close())
}

func (w *Webcam) Stats() types.StreamStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	var fpsReal float64
	if elapsed := time.Since(w.start).Seconds(); elapsed > 0 {
		fpsReal = float64(w.seq) / elapsed
	}
	return types.StreamStats{
		FrameCount:   w.seq,
		FPSTarget:    w.fpsTarget,
		FPSReal:      fpsReal,
		SourceStream: w.source,
		Resolution:   w.resolution,
		IsConnected:  !w.closed,
	}
}

// matToBGR copies a 3-channel 8-bit Mat out of C memory.
func matToBGR(m gocv.Mat) ([]byte, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unexpected mat type %v", m.Type())
	}
	return m.ToBytes(), nil
}

// frameToMat wraps f in a Mat. The caller closes it.
func frameToMat(f types.Frame) (gocv.Mat, error) {
	if !f.Valid() {
		return gocv.Mat{}, fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Data))
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
}
