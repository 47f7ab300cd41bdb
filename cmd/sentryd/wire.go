package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/care/sentry/internal/capture"
	"github.com/care/sentry/internal/config"
	"github.com/care/sentry/internal/dispatch"
	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/gst"
	"github.com/care/sentry/internal/metrics"
	"github.com/care/sentry/internal/motion"
	"github.com/care/sentry/internal/notify"
	"github.com/care/sentry/internal/opencv"
	"github.com/care/sentry/internal/recorder"
	"github.com/care/sentry/internal/stream"
	"github.com/care/sentry/internal/vision/raster"
	"github.com/care/sentry/internal/webhook"
)

// build assembles the service from cfg. The frame source is opened here,
// so a camera that cannot be opened fails before anything else starts.
func build(ctx context.Context, cfg *config.Config) (*capture.Service, error) {
	src, err := openSource(cfg.Camera)
	if err != nil {
		return nil, err
	}

	fps := cfg.Camera.FPS
	if cfg.Camera.WarmupSeconds > 0 {
		stats, err := stream.Warmup(ctx, src, time.Duration(cfg.Camera.WarmupSeconds)*time.Second)
		if err != nil {
			slog.Warn("warm-up failed, recording at configured fps", "error", err, "fps", fps)
		} else {
			fps = stats.RecordingFPS(fps)
		}
	}

	m := metrics.New()
	eventObservers := capture.EventObservers{m}
	deliveryObservers := capture.DeliveryObservers{m}
	var closers []func()

	if cfg.MQTT.Broker != "" {
		pub, err := notify.Connect(ctx, cfg.MQTT, cfg.InstanceID)
		if err != nil {
			slog.Warn("mqtt unavailable, continuing without notices", "error", err)
		} else {
			eventObservers = append(eventObservers, pub)
			deliveryObservers = append(deliveryObservers, pub)
			closers = append(closers, pub.Close)
		}
	}

	client := webhook.New(webhook.Options{
		Endpoint:  cfg.Alert.Endpoint,
		Timeout:   cfg.Alert.Timeout(),
		UserAgent: "sentryd/" + version,
	})
	disp := dispatch.New(client, newEncoder(cfg.Motion.Backend), dispatch.Options{
		MaxRetries:      cfg.Alert.RetryCount,
		RetryDelay:      cfg.Alert.RetryDelay(),
		JPEGQuality:     cfg.Alert.JPEGQuality,
		DeleteOnSuccess: cfg.Alert.DeleteOnSuccess,
		AudioMergeWait:  cfg.Audio.MergeWait(),
	}, deliveryObservers)

	rec := recorder.New(newSinkFactory(cfg.Recording), newAudioSource(cfg.Audio), recorder.Options{
		OutputDir:        cfg.Recording.OutputDir,
		VideoExt:         cfg.Recording.VideoExt,
		FrameRate:        fps,
		MaxWriteFailures: cfg.Recording.MaxWriteFailures,
		AudioMode:        recorder.AudioMode(cfg.Audio.Mode),
		AudioDuration:    cfg.Audio.Duration(),
	})

	machine := event.NewMachine(capture.Recordings(rec), disp, cfg.Recording.Buffer(),
		event.WithObserver(eventObservers),
	)

	detector := motion.NewDetector(newVision(cfg.Motion.Backend), motion.Options{
		IntensityCutoff:  uint8(cfg.Motion.IntensityCutoff),
		BlurKernel:       cfg.Motion.BlurKernel,
		DilateIterations: cfg.Motion.DilateIterations,
	})

	loopOpts := []capture.LoopOption{capture.WithFrameObserver(m)}
	if cfg.Preview.Enabled {
		loopOpts = append(loopOpts, capture.WithPreview(opencv.NewPreview("sentry: "+cfg.InstanceID)))
	}
	loop := capture.NewLoop(src, detector, machine, cfg.Motion.AreaThreshold, loopOpts...)

	svc := &capture.Service{
		Loop:            loop,
		Source:          src,
		Deliveries:      disp,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Closers:         closers,
	}
	if cfg.Health.Addr != "" {
		svc.Health = capture.NewHealthServer(cfg.Health.Addr, loop, disp.InFlight, m.Handler())
	}

	slog.Info("pipeline assembled",
		"source", cfg.Camera.Source,
		"vision", cfg.Motion.Backend,
		"encoder", cfg.Recording.Encoder,
		"recording_fps", fps,
		"audio", cfg.Audio.Enabled,
		"mqtt", len(closers) > 0,
		"health", cfg.Health.Addr,
	)
	return svc, nil
}

func openSource(c config.CameraConfig) (capture.FrameSource, error) {
	switch c.Source {
	case "webcam":
		cam, err := opencv.OpenWebcam(c.DeviceIndex, c.Width, c.Height)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case "rtsp":
		src, err := gst.OpenRTSP(gst.RTSPConfig{
			URL:    c.RTSPURL,
			Width:  c.Width,
			Height: c.Height,
			FPS:    c.FPS,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case "mock":
		return stream.NewSynthetic(stream.SyntheticOptions{
			Width:  c.Width,
			Height: c.Height,
			FPS:    c.FPS,
			Loop:   true,
			Source: "mock",
		}), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", c.Source)
	}
}

func newVision(backend string) motion.Vision {
	if backend == "raster" {
		return raster.New()
	}
	return opencv.Vision{}
}

func newEncoder(backend string) dispatch.ImageEncoder {
	if backend == "raster" {
		return raster.Encoder{}
	}
	return opencv.Encoder{}
}

func newSinkFactory(c config.RecordingConfig) recorder.SinkFactory {
	if c.Encoder == "gstreamer" {
		return gst.VideoWriter{}
	}
	return opencv.VideoWriter{Codec: c.Codec}
}

// newAudioSource returns nil when audio is disabled; the recorder then
// records video only.
func newAudioSource(c config.AudioConfig) recorder.AudioSource {
	if !c.Enabled {
		return nil
	}
	return gst.AudioRecorder{Device: c.Device}
}
