// Package recorder owns the video and audio sinks of one motion event.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/care/sentry/internal/types"
)

// FileTimeLayout names recordings motion_2006-01-02_15-04-05.<ext>.
const FileTimeLayout = "2006-01-02_15-04-05"

// ErrFinalized is returned by Write after the handle has been finalized.
var ErrFinalized = errors.New("recorder: handle already finalized")

// Sink receives the frames of one recording.
type Sink interface {
	Write(f types.Frame) error
	Close() error
}

// SinkFactory opens video sinks.
type SinkFactory interface {
	Open(path string, fps float64, size image.Point) (Sink, error)
}

// SinkFactoryFunc adapts a function to SinkFactory.
type SinkFactoryFunc func(path string, fps float64, size image.Point) (Sink, error)

func (f SinkFactoryFunc) Open(path string, fps float64, size image.Point) (Sink, error) {
	return f(path, fps, size)
}

// AudioSource records audio clips. Record blocks until the clip reaches d
// or ctx is cancelled, and leaves a playable file at path in both cases.
type AudioSource interface {
	Record(ctx context.Context, path string, d time.Duration) error
}

// AudioMode decides when an audio clip stops.
type AudioMode string

const (
	// AudioFixed records for the configured duration regardless of motion.
	AudioFixed AudioMode = "fixed"
	// AudioEvent stops the clip when the video is finalized, capped at the
	// configured duration.
	AudioEvent AudioMode = "event"
)

type Options struct {
	OutputDir        string
	VideoExt         string
	FrameRate        float64
	MaxWriteFailures int

	AudioMode     AudioMode
	AudioDuration time.Duration
	AudioExt      string
}

// Recorder creates recording handles.
type Recorder struct {
	sinks SinkFactory
	audio AudioSource
	opts  Options
	now   func() time.Time
}

// New creates a recorder. audio may be nil to record video only.
func New(sinks SinkFactory, audio AudioSource, opts Options) *Recorder {
	if opts.MaxWriteFailures < 1 {
		opts.MaxWriteFailures = 1
	}
	if opts.AudioExt == "" {
		opts.AudioExt = "wav"
	}
	if opts.AudioMode == "" {
		opts.AudioMode = AudioFixed
	}
	return &Recorder{sinks: sinks, audio: audio, opts: opts, now: time.Now}
}

// Begin starts a recording named after at in the output directory.
func (r *Recorder) Begin(at time.Time, size image.Point) (*Handle, error) {
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return nil, types.ResourceError("recorder.begin", err)
	}
	path := uniquePath(filepath.Join(r.opts.OutputDir, FileName(at, r.opts.VideoExt)))
	return r.Start(path, r.opts.FrameRate, size)
}

// Start opens a sink at path. A sink that cannot be opened is reported as
// ResourceUnavailable.
func (r *Recorder) Start(path string, frameRate float64, size image.Point) (*Handle, error) {
	sink, err := r.sinks.Open(path, frameRate, size)
	if err != nil {
		return nil, types.ResourceError("recorder.start", fmt.Errorf("open %s: %w", path, err))
	}

	h := &Handle{
		path:        path,
		sink:        sink,
		maxFailures: r.opts.MaxWriteFailures,
		now:         r.now,
	}

	if r.audio != nil {
		audioPath := replaceExt(path, r.opts.AudioExt)
		h.audio = startClip(r.audio, audioPath, r.opts.AudioDuration, r.now)
		h.stopAudio = r.opts.AudioMode == AudioEvent
	}

	slog.Info("recording started",
		"path", path,
		"fps", frameRate,
		"width", size.X,
		"height", size.Y,
		"audio", h.audio != nil,
	)
	return h, nil
}

// Handle is one open recording. It is driven from a single goroutine.
type Handle struct {
	path        string
	sink        Sink
	maxFailures int
	now         func() time.Time

	written  uint64
	failures int

	audio     *Clip
	stopAudio bool

	once     sync.Once
	evidence types.Evidence
	err      error
	done     bool
}

func (h *Handle) Path() string {
	return h.path
}

// Write appends one frame. A single failure is reported as EncodingFailure;
// once maxFailures consecutive writes fail the error becomes
// ResourceUnavailable and the caller is expected to finalize.
func (h *Handle) Write(f types.Frame) error {
	if h.done {
		return ErrFinalized
	}
	if err := h.sink.Write(f); err != nil {
		h.failures++
		if h.failures >= h.maxFailures {
			return types.ResourceError("recorder.write",
				fmt.Errorf("%d consecutive write failures: %w", h.failures, err))
		}
		return types.EncodingError("recorder.write", err)
	}
	h.failures = 0
	h.written++
	return nil
}

// Finalize closes the sink and returns the evidence. Calling it again
// returns the same evidence and no error.
func (h *Handle) Finalize() (types.Evidence, error) {
	first := false
	h.once.Do(func() {
		first = true
		h.done = true

		if err := h.sink.Close(); err != nil {
			h.err = types.EncodingError("recorder.finalize", fmt.Errorf("close %s: %w", h.path, err))
		}
		if h.audio != nil && h.stopAudio {
			h.audio.Stop()
		}

		h.evidence = types.Evidence{
			Video: types.Artifact{
				Path:       h.path,
				Kind:       types.ArtifactVideo,
				ProducedAt: h.now(),
			},
			Frames: h.written,
		}
		if h.audio != nil {
			h.evidence.Audio = h.audio
		}

		slog.Info("recording finalized",
			"path", h.path,
			"frames", h.written,
			"error", h.err,
		)
	})
	if first {
		return h.evidence, h.err
	}
	return h.evidence, nil
}

// FileName returns motion_<timestamp>.<ext> for a recording started at t.
func FileName(t time.Time, ext string) string {
	return fmt.Sprintf("motion_%s.%s", t.Format(FileTimeLayout), ext)
}

// uniquePath appends _1, _2, ... when two events start within one second.
func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func replaceExt(path, ext string) string {
	return path[:len(path)-len(filepath.Ext(path))] + "." + ext
}
