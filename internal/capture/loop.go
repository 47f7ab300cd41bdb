// Package capture drives the pipeline: it pulls frames, runs motion
// detection, feeds the event machine and owns the service lifecycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/types"
)

// FrameSource yields frames until it returns types.ErrEndOfStream.
type FrameSource interface {
	Read(ctx context.Context) (types.Frame, error)
	Close() error
}

type Detector interface {
	Detect(prev, cur types.Frame, areaThreshold int) (types.MotionResult, error)
}

// StateMachine is the part of event.Machine the loop drives.
type StateMachine interface {
	Step(frame types.Frame, res types.MotionResult)
	Close()
	State() event.State
}

// Preview renders the current frame. Show returns true when the operator
// asked to stop.
type Preview interface {
	Show(f types.Frame, res types.MotionResult) bool
	Close() error
}

// FrameObserver is told about every processed tick.
type FrameObserver interface {
	FrameProcessed(res types.MotionResult, took time.Duration)
}

// Status is a point-in-time view of the loop, safe to read from any goroutine.
type Status struct {
	Running     bool      `json:"running"`
	Frames      uint64    `json:"frames"`
	LastFrameAt time.Time `json:"last_frame_at"`
	Recording   bool      `json:"recording"`
}

// Loop is the single goroutine that reads frames and drives the machine.
type Loop struct {
	source        FrameSource
	detector      Detector
	machine       StateMachine
	areaThreshold int
	preview       Preview
	observer      FrameObserver

	running     atomic.Bool
	frames      atomic.Uint64
	lastFrameAt atomic.Int64
	recording   atomic.Bool
}

type LoopOption func(*Loop)

func WithPreview(p Preview) LoopOption {
	return func(l *Loop) { l.preview = p }
}

func WithFrameObserver(o FrameObserver) LoopOption {
	return func(l *Loop) { l.observer = o }
}

func NewLoop(src FrameSource, det Detector, machine StateMachine, areaThreshold int, opts ...LoopOption) *Loop {
	l := &Loop{
		source:        src,
		detector:      det,
		machine:       machine,
		areaThreshold: areaThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run primes two frames and then ticks until ctx is done, the source ends
// or fails, or the preview asks to quit. Whatever the reason, an open
// recording is finalized and handed off before Run returns. Only a
// CaptureUnavailable error is returned; a panic inside a tick is logged
// and reported as one.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture loop panicked",
				"panic", r,
				"frames", l.frames.Load(),
				"stack", string(debug.Stack()),
			)
			err = types.CaptureError("capture.tick", fmt.Errorf("panic: %v", r))
		}
	}()
	l.running.Store(true)
	defer l.running.Store(false)
	defer func() {
		l.machine.Close()
		l.recording.Store(false)
	}()
	if l.preview != nil {
		defer l.preview.Close()
	}

	prev, cur, err := l.prime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return types.CaptureError("capture.prime", err)
	}

	slog.Info("capture loop started",
		"source", cur.SourceStream,
		"resolution", cur.Size(),
		"area_threshold", l.areaThreshold,
	)

	for {
		if ctx.Err() != nil {
			slog.Info("capture loop stopping", "reason", "stop requested", "frames", l.frames.Load())
			return nil
		}

		start := time.Now()
		res, err := l.detector.Detect(prev, cur, l.areaThreshold)
		if err != nil {
			slog.Warn("motion detection failed, treating tick as still", "seq", cur.Seq, "error", err)
			res = types.MotionResult{DetectedAt: cur.Timestamp}
		}
		if l.observer != nil {
			l.observer.FrameProcessed(res, time.Since(start))
		}

		l.machine.Step(cur, res)
		l.recording.Store(l.machine.State() == event.Recording)

		if l.preview != nil && l.preview.Show(cur, res) {
			slog.Info("capture loop stopping", "reason", "preview closed", "frames", l.frames.Load())
			return nil
		}

		prev = cur
		cur, err = l.next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrEndOfStream):
			slog.Info("capture loop stopping", "reason", "end of stream", "frames", l.frames.Load())
			return nil
		case ctx.Err() != nil:
			slog.Info("capture loop stopping", "reason", "stop requested", "frames", l.frames.Load())
			return nil
		default:
			slog.Error("frame source failed", "error", err, "frames", l.frames.Load())
			if errors.Is(err, types.ErrCaptureUnavailable) {
				return err
			}
			return types.CaptureError("capture.read", err)
		}
	}
}

// prime reads the first two frames; the first tick compares them.
func (l *Loop) prime(ctx context.Context) (prev, cur types.Frame, err error) {
	if prev, err = l.next(ctx); err != nil {
		return prev, cur, err
	}
	cur, err = l.next(ctx)
	return prev, cur, err
}

func (l *Loop) next(ctx context.Context) (types.Frame, error) {
	f, err := l.source.Read(ctx)
	if err == nil {
		l.seen(f)
	}
	return f, err
}

func (l *Loop) seen(f types.Frame) {
	l.frames.Add(1)
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	l.lastFrameAt.Store(ts.UnixNano())
}

func (l *Loop) Status() Status {
	st := Status{
		Running:   l.running.Load(),
		Frames:    l.frames.Load(),
		Recording: l.recording.Load(),
	}
	if ns := l.lastFrameAt.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	return st
}
