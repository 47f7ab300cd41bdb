// Package stream holds frame sources that need no camera, and warm-up
// measurement for any source.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/sentry/internal/types"
)

// Segment is a run of frames with or without a moving object.
type Segment struct {
	Frames int
	Motion bool
}

// DefaultScript alternates two seconds of motion with ten still seconds at 20 fps.
var DefaultScript = []Segment{
	{Frames: 40, Motion: true},
	{Frames: 200, Motion: false},
}

type SyntheticOptions struct {
	Width  int
	Height int
	FPS    float64 // 0 delivers frames as fast as they are read
	Script []Segment
	Loop   bool
	Source string
}

// Synthetic generates BGR24 frames with a bright block that moves during
// motion segments and stays put otherwise.
type Synthetic struct {
	opts   SyntheticOptions
	ticker *time.Ticker

	mu        sync.Mutex
	seq       uint64
	segment   int
	pos       int
	blockX    int
	emitted   uint64
	startTime time.Time
	closed    bool
}

func NewSynthetic(opts SyntheticOptions) *Synthetic {
	if len(opts.Script) == 0 {
		opts.Script = DefaultScript
	}
	total := 0
	for _, seg := range opts.Script {
		total += seg.Frames
	}
	if total == 0 {
		opts.Loop = false
	}
	if opts.Source == "" {
		opts.Source = "synthetic"
	}
	s := &Synthetic{opts: opts, startTime: time.Now()}
	if opts.FPS > 0 {
		s.ticker = time.NewTicker(time.Duration(float64(time.Second) / opts.FPS))
	}

	slog.Info("synthetic stream starting",
		"width", opts.Width,
		"height", opts.Height,
		"fps", opts.FPS,
		"segments", len(opts.Script),
		"loop", opts.Loop,
	)
	return s
}

// Read returns the next frame, waiting for the next tick when paced.
func (s *Synthetic) Read(ctx context.Context) (types.Frame, error) {
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Frame{}, types.ErrEndOfStream
	}

	for s.segment < len(s.opts.Script) && s.pos >= s.opts.Script[s.segment].Frames {
		s.segment++
		s.pos = 0
		if s.segment == len(s.opts.Script) && s.opts.Loop {
			s.segment = 0
		}
	}
	if s.segment >= len(s.opts.Script) {
		return types.Frame{}, types.ErrEndOfStream
	}

	seg := s.opts.Script[s.segment]
	s.pos++
	if seg.Motion {
		s.blockX = (s.blockX + 10) % max(s.opts.Width-blockSize, 1)
	}

	f := s.render()
	s.emitted++
	return f, nil
}

const blockSize = 80

func (s *Synthetic) render() types.Frame {
	w, h := s.opts.Width, s.opts.Height
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = 40
	}

	top := max((h-blockSize)/2, 0)
	for y := top; y < min(top+blockSize, h); y++ {
		for x := s.blockX; x < min(s.blockX+blockSize, w); x++ {
			i := (y*w + x) * 3
			data[i], data[i+1], data[i+2] = 230, 230, 230
		}
	}

	s.seq++
	return types.Frame{
		Seq:          s.seq,
		Timestamp:    time.Now(),
		Width:        w,
		Height:       h,
		Data:         data,
		SourceStream: s.opts.Source,
		TraceID:      uuid.New().String(),
	}
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ticker != nil {
		s.ticker.Stop()
	}
	slog.Info("synthetic stream stopped",
		"frames_emitted", s.emitted,
		"duration", time.Since(s.startTime),
	)
	return nil
}

func (s *Synthetic) Stats() types.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fpsReal float64
	if elapsed := time.Since(s.startTime).Seconds(); elapsed > 0 {
		fpsReal = float64(s.emitted) / elapsed
	}
	return types.StreamStats{
		FrameCount:   s.emitted,
		FPSTarget:    s.opts.FPS,
		FPSReal:      fpsReal,
		SourceStream: s.opts.Source,
		Resolution:   fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height),
		IsConnected:  !s.closed,
	}
}
