// Package gst holds the GStreamer backends: an RTSP frame source, an
// H.264/MP4 video sink and an audio clip recorder.
package gst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/sentry/internal/types"
)

type RTSPConfig struct {
	URL    string
	Width  int
	Height int
	FPS    float64
	Source string

	MaxRetries    uint64
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// RTSPSource decodes an RTSP H.264 stream into BGR frames. Pipeline errors
// are retried with exponential backoff; once retries are exhausted Read
// returns the last error.
type RTSPSource struct {
	cfg    RTSPConfig
	frames chan types.Frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	err     error
	started time.Time

	frameCount    atomic.Uint64
	bytesRead     atomic.Uint64
	framesDropped atomic.Uint64
	reconnects    atomic.Uint32
	connected     atomic.Bool
}

// OpenRTSP starts the pipeline and its supervisor. It fails only when
// GStreamer itself is unusable; an unreachable camera is retried.
func OpenRTSP(cfg RTSPConfig) (*RTSPSource, error) {
	if cfg.URL == "" {
		return nil, types.CaptureError("gst.rtsp", errors.New("rtsp url is empty"))
	}
	if cfg.Source == "" {
		cfg.Source = "rtsp"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}

	gst.Init(nil)
	if _, err := gst.NewElement("rtspsrc"); err != nil {
		return nil, types.CaptureError("gst.rtsp", fmt.Errorf("gstreamer rtspsrc unavailable: %w", err))
	}

	s := &RTSPSource{
		cfg:     cfg,
		frames:  make(chan types.Frame, 10),
		started: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	slog.Info("gst: starting RTSP stream",
		"url", cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"target_fps", cfg.FPS,
	)

	s.wg.Add(1)
	go s.supervise()
	return s, nil
}

// supervise runs the pipeline, rebuilding it after each failure.
func (s *RTSPSource) supervise() {
	defer s.wg.Done()
	defer close(s.frames)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryDelay
	b.MaxInterval = s.cfg.MaxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	retries := backoff.WithMaxRetries(b, s.cfg.MaxRetries)
	policy := backoff.WithContext(retries, s.ctx)

	err := backoff.RetryNotify(func() error {
		err := s.runOnce(retries)
		if err != nil {
			var perr *PipelineError
			if errors.As(err, &perr) && !perr.Category.Retryable() {
				return backoff.Permanent(err)
			}
		}
		return err
	}, policy, func(err error, delay time.Duration) {
		s.reconnects.Add(1)
		slog.Warn("gst: retrying RTSP connection",
			"error", err,
			"reconnects", s.reconnects.Load(),
			"delay", delay,
		)
	})

	if err != nil && s.ctx.Err() == nil {
		slog.Error("gst: RTSP stream stopped after reconnection failure",
			"error", err,
			"url", s.cfg.URL,
			"uptime", time.Since(s.started),
			"frames_processed", s.frameCount.Load(),
			"reconnects", s.reconnects.Load(),
		)
		s.mu.Lock()
		s.err = types.CaptureError("gst.rtsp", err)
		s.mu.Unlock()
	}
}

// runOnce plays one pipeline until it fails or the source is closed.
// A pipeline that reached PLAYING resets the retry budget.
func (s *RTSPSource) runOnce(retries backoff.BackOff) error {
	pipeline, err := s.build()
	if err != nil {
		return err
	}
	defer func() {
		s.connected.Store(false)
		pipeline.SetState(gst.StateNull)
	}()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	err = watchBus(s.ctx, pipeline, func() {
		s.connected.Store(true)
		retries.Reset()
		slog.Info("gst: pipeline playing, reconnect state reset")
	})
	if err == nil {
		return nil
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		slog.Error("gst: pipeline error",
			"error", perr.Message,
			"debug", perr.Debug,
			"category", perr.Category.String(),
			"url", s.cfg.URL,
			"uptime", time.Since(s.started),
			"frames_processed", s.frameCount.Load(),
		)
	}
	return err
}

// build creates
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	videorate → capsfilter(BGR) → appsink
func (s *RTSPSource) build() (*gst.Pipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	src.SetProperty("location", s.cfg.URL)
	src.SetProperty("protocols", 4) // TCP only
	src.SetProperty("latency", 200)
	src.SetProperty("tcp-timeout", uint64(10000000))

	names := []string{"rtph264depay", "avdec_h264", "videoconvert", "videoscale", "videorate", "capsfilter"}
	chain := make([]*gst.Element, 0, len(names)+1)
	for _, name := range names {
		el, err := gst.NewElement(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		chain = append(chain, el)
	}
	depay, rate, capsfilter := chain[0], chain[4], chain[5]
	depay.SetProperty("request-keyframe", true)
	rate.SetProperty("drop-only", true)
	rate.SetProperty("skip-to-first", true)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(videoCaps(s.cfg.Width, s.cfg.Height, s.cfg.FPS)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)
	chain = append(chain, sink.Element)

	pipeline.AddMany(append([]*gst.Element{src}, chain...)...)
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	// rtspsrc pads appear only once the session is negotiated.
	src.Connect("pad-added", func(_ *gst.Element, srcPad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("gst: failed to get sink pad from rtph264depay")
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Error("gst: failed to link pads",
				"src_pad", srcPad.GetName(),
				"sink_pad", sinkPad.GetName(),
				"ret", ret,
			)
		}
	})

	return pipeline, nil
}

func (s *RTSPSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gst: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gst: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gst: empty buffer received")
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	s.bytesRead.Add(uint64(len(frameData)))
	frame := types.Frame{
		Seq:          s.frameCount.Add(1),
		Timestamp:    time.Now(),
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		Data:         frameData,
		SourceStream: s.cfg.Source,
		TraceID:      uuid.New().String(),
	}

	select {
	case s.frames <- frame:
	default:
		s.framesDropped.Add(1)
		slog.Debug("gst: dropping frame, channel full", "seq", frame.Seq)
	}
	return gst.FlowOK
}

// Read blocks for the next frame. After the supervisor gives up it returns
// a CaptureUnavailable error, after Close it returns types.ErrEndOfStream.
func (s *RTSPSource) Read(ctx context.Context) (types.Frame, error) {
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case f, ok := <-s.frames:
		if ok {
			return f, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.Frame{}, s.err
	}
	return types.Frame{}, types.ErrEndOfStream
}

func (s *RTSPSource) Close() error {
	s.once.Do(func() {
		slog.Info("gst: stopping RTSP stream")
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			slog.Warn("gst: stop timeout exceeded, pipeline may still be running")
		}

		slog.Info("gst: RTSP stream stopped",
			"frames_captured", s.frameCount.Load(),
			"frames_dropped", s.framesDropped.Load(),
			"reconnects", s.reconnects.Load(),
			"uptime", time.Since(s.started),
		)
	})
	return nil
}

func (s *RTSPSource) Stats() types.StreamStats {
	frames := s.frameCount.Load()
	var fpsReal float64
	if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
		fpsReal = float64(frames) / elapsed
	}
	return types.StreamStats{
		FrameCount:   frames,
		FPSTarget:    s.cfg.FPS,
		FPSReal:      fpsReal,
		SourceStream: s.cfg.Source,
		Resolution:   fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		Reconnects:   s.reconnects.Load(),
		BytesRead:    s.bytesRead.Load(),
		IsConnected:  s.connected.Load(),
	}
}
