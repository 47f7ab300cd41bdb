package config

import (
	"fmt"
	"regexp"
	"strings"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		return fmt.Errorf("shutdown_timeout_s must be > 0")
	}

	if err := validateCamera(cfg.Camera); err != nil {
		return err
	}
	if err := validateMotion(cfg.Motion); err != nil {
		return err
	}
	if err := validateRecording(cfg.Recording); err != nil {
		return err
	}

	if cfg.Audio.Enabled {
		if !oneOf(cfg.Audio.Mode, "fixed", "event") {
			return fmt.Errorf("audio.mode must be 'fixed' or 'event', got '%s'", cfg.Audio.Mode)
		}
		if cfg.Audio.DurationSeconds <= 0 {
			return fmt.Errorf("audio.duration_seconds must be > 0")
		}
		if cfg.Audio.MergeWaitSeconds < 0 {
			return fmt.Errorf("audio.merge_wait_seconds must be >= 0")
		}
	}

	if err := validateAlert(cfg.Alert); err != nil {
		return err
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if !oneOf(cfg.MQTT.Encoding, "json", "msgpack") {
			return fmt.Errorf("mqtt.encoding must be 'json' or 'msgpack', got '%s'", cfg.MQTT.Encoding)
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = fmt.Sprintf("sentry/%s", cfg.InstanceID)
		}
		cfg.MQTT.TopicPrefix = strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")
	}

	if !oneOf(strings.ToLower(cfg.Log.Level), "debug", "info", "warn", "error") {
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if !oneOf(cfg.Log.Format, "json", "text") {
		return fmt.Errorf("log.format must be 'json' or 'text', got '%s'", cfg.Log.Format)
	}

	return nil
}

func validateCamera(c CameraConfig) error {
	switch c.Source {
	case "webcam", "mock":
	case "rtsp":
		if c.RTSPURL == "" {
			return fmt.Errorf("camera.rtsp_url is required when camera.source is 'rtsp'")
		}
	default:
		return fmt.Errorf("camera.source must be 'webcam', 'rtsp' or 'mock', got '%s'", c.Source)
	}
	if c.DeviceIndex < 0 {
		return fmt.Errorf("camera.device_index must be >= 0")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if c.FPS <= 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}
	if c.WarmupSeconds < 0 {
		return fmt.Errorf("camera.warmup_seconds must be >= 0")
	}
	return nil
}

func validateMotion(m MotionConfig) error {
	if m.AreaThreshold <= 0 {
		return fmt.Errorf("motion.area_threshold must be > 0")
	}
	if m.IntensityCutoff < 0 || m.IntensityCutoff > 255 {
		return fmt.Errorf("motion.intensity_cutoff must be within 0..255")
	}
	if m.BlurKernel <= 0 || m.BlurKernel%2 == 0 {
		return fmt.Errorf("motion.blur_kernel must be a positive odd number, got %d", m.BlurKernel)
	}
	if m.DilateIterations < 0 {
		return fmt.Errorf("motion.dilate_iterations must be >= 0")
	}
	if !oneOf(m.Backend, "opencv", "raster") {
		return fmt.Errorf("motion.backend must be 'opencv' or 'raster', got '%s'", m.Backend)
	}
	return nil
}

func validateRecording(r RecordingConfig) error {
	if r.BufferSeconds <= 0 {
		return fmt.Errorf("recording.buffer_seconds must be > 0")
	}
	if r.OutputDir == "" {
		return fmt.Errorf("recording.output_dir is required")
	}
	if !oneOf(r.Encoder, "opencv", "gstreamer") {
		return fmt.Errorf("recording.encoder must be 'opencv' or 'gstreamer', got '%s'", r.Encoder)
	}
	if r.VideoExt == "" || strings.ContainsAny(r.VideoExt, "./\\") {
		return fmt.Errorf("recording.video_ext must be a bare extension such as 'mp4'")
	}
	if r.Encoder == "opencv" && len(r.Codec) != 4 {
		return fmt.Errorf("recording.codec must be a four character code, got '%s'", r.Codec)
	}
	if r.MaxWriteFailures < 1 {
		return fmt.Errorf("recording.max_write_failures must be >= 1")
	}
	return nil
}

func validateAlert(a AlertConfig) error {
	if a.Endpoint == "" {
		return fmt.Errorf("alert.endpoint is required (set %s_ALERT_ENDPOINT)", EnvPrefix)
	}
	if !strings.HasPrefix(a.Endpoint, "http://") && !strings.HasPrefix(a.Endpoint, "https://") {
		return fmt.Errorf("alert.endpoint must be an http(s) URL")
	}
	if a.RetryCount < 0 {
		return fmt.Errorf("alert.retry_count must be >= 0")
	}
	if a.RetryDelaySeconds < 0 {
		return fmt.Errorf("alert.retry_delay_seconds must be >= 0")
	}
	if a.TimeoutSeconds <= 0 {
		return fmt.Errorf("alert.timeout_seconds must be > 0")
	}
	if a.JPEGQuality < 1 || a.JPEGQuality > 100 {
		return fmt.Errorf("alert.jpeg_quality must be within 1..100")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
