package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// SENTRY_ALERT_ENDPOINT or SENTRY_MOTION_AREA_THRESHOLD.
const EnvPrefix = "SENTRY"

// Config represents the complete sentry configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id" envconfig:"INSTANCE_ID"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s" envconfig:"SHUTDOWN_TIMEOUT_S"` // wait for in-flight deliveries on exit
	Camera           CameraConfig    `yaml:"camera" envconfig:"CAMERA"`
	Motion           MotionConfig    `yaml:"motion" envconfig:"MOTION"`
	Recording        RecordingConfig `yaml:"recording" envconfig:"RECORDING"`
	Audio            AudioConfig     `yaml:"audio" envconfig:"AUDIO"`
	Alert            AlertConfig     `yaml:"alert" envconfig:"ALERT"`
	MQTT             MQTTConfig      `yaml:"mqtt" envconfig:"MQTT"`
	Health           HealthConfig    `yaml:"health" envconfig:"HEALTH"`
	Preview          PreviewConfig   `yaml:"preview" envconfig:"PREVIEW"`
	Log              LogConfig       `yaml:"log" envconfig:"LOG"`
}

// CameraConfig selects and sizes the frame source
type CameraConfig struct {
	Source        string  `yaml:"source" envconfig:"SOURCE"` // webcam, rtsp, mock
	DeviceIndex   int     `yaml:"device_index" envconfig:"DEVICE_INDEX"`
	RTSPURL       string  `yaml:"rtsp_url" envconfig:"RTSP_URL"`
	Width         int     `yaml:"width" envconfig:"WIDTH"`
	Height        int     `yaml:"height" envconfig:"HEIGHT"`
	FPS           float64 `yaml:"fps" envconfig:"FPS"`
	WarmupSeconds int     `yaml:"warmup_seconds" envconfig:"WARMUP_SECONDS"` // 0 disables FPS measurement
}

// MotionConfig contains frame differencing settings
type MotionConfig struct {
	AreaThreshold    int    `yaml:"area_threshold" envconfig:"AREA_THRESHOLD"`
	IntensityCutoff  int    `yaml:"intensity_cutoff" envconfig:"INTENSITY_CUTOFF"`
	BlurKernel       int    `yaml:"blur_kernel" envconfig:"BLUR_KERNEL"`
	DilateIterations int    `yaml:"dilate_iterations" envconfig:"DILATE_ITERATIONS"`
	Backend          string `yaml:"backend" envconfig:"BACKEND"` // opencv, raster
}

// RecordingConfig contains video evidence settings
type RecordingConfig struct {
	BufferSeconds    float64 `yaml:"buffer_seconds" envconfig:"BUFFER_SECONDS"`
	OutputDir        string  `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	Encoder          string  `yaml:"encoder" envconfig:"ENCODER"` // opencv, gstreamer
	VideoExt         string  `yaml:"video_ext" envconfig:"VIDEO_EXT"`
	Codec            string  `yaml:"codec" envconfig:"CODEC"` // fourcc for the opencv writer
	MaxWriteFailures int     `yaml:"max_write_failures" envconfig:"MAX_WRITE_FAILURES"`
}

// AudioConfig contains optional audio clip settings
type AudioConfig struct {
	Enabled          bool    `yaml:"enabled" envconfig:"ENABLED"`
	Mode             string  `yaml:"mode" envconfig:"MODE"` // fixed, event
	DurationSeconds  float64 `yaml:"duration_seconds" envconfig:"DURATION_SECONDS"`
	Device           string  `yaml:"device" envconfig:"DEVICE"`
	MergeWaitSeconds float64 `yaml:"merge_wait_seconds" envconfig:"MERGE_WAIT_SECONDS"`
}

// AlertConfig contains webhook delivery settings
type AlertConfig struct {
	Endpoint          string  `yaml:"endpoint" envconfig:"ENDPOINT"`
	RetryCount        int     `yaml:"retry_count" envconfig:"RETRY_COUNT"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds" envconfig:"RETRY_DELAY_SECONDS"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
	JPEGQuality       int     `yaml:"jpeg_quality" envconfig:"JPEG_QUALITY"`
	DeleteOnSuccess   bool    `yaml:"delete_on_success" envconfig:"DELETE_ON_SUCCESS"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables notices.
type MQTTConfig struct {
	Broker      string `yaml:"broker" envconfig:"BROKER"`
	TopicPrefix string `yaml:"topic_prefix" envconfig:"TOPIC_PREFIX"`
	QoS         byte   `yaml:"qos" envconfig:"QOS"`
	Encoding    string `yaml:"encoding" envconfig:"ENCODING"` // json, msgpack
}

// HealthConfig contains the health/metrics HTTP server address. Empty disables it.
type HealthConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

type PreviewConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// Default returns a configuration with every option at its default value.
// The alert endpoint has no default.
func Default() *Config {
	return &Config{
		InstanceID:       "sentry",
		ShutdownTimeoutS: 30,
		Camera: CameraConfig{
			Source: "webcam",
			Width:  640,
			Height: 480,
			FPS:    20,
		},
		Motion: MotionConfig{
			AreaThreshold:    1000,
			IntensityCutoff:  20,
			BlurKernel:       5,
			DilateIterations: 3,
			Backend:          "opencv",
		},
		Recording: RecordingConfig{
			BufferSeconds:    5,
			OutputDir:        "recordings",
			Encoder:          "opencv",
			VideoExt:         "mp4",
			Codec:            "mp4v",
			MaxWriteFailures: 10,
		},
		Audio: AudioConfig{
			Mode:             "fixed",
			DurationSeconds:  10,
			MergeWaitSeconds: 2,
		},
		Alert: AlertConfig{
			RetryCount:        2,
			RetryDelaySeconds: 2,
			TimeoutSeconds:    20,
			JPEGQuality:       85,
			DeleteOnSuccess:   true,
		},
		MQTT: MQTTConfig{
			QoS:      1,
			Encoding: "json",
		},
		Health: HealthConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults, applies
// SENTRY_* environment overrides and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

func (c RecordingConfig) Buffer() time.Duration {
	return seconds(c.BufferSeconds)
}

func (c AlertConfig) RetryDelay() time.Duration {
	return seconds(c.RetryDelaySeconds)
}

func (c AlertConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

func (c AudioConfig) Duration() time.Duration {
	return seconds(c.DurationSeconds)
}

func (c AudioConfig) MergeWait() time.Duration {
	return seconds(c.MergeWaitSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
