package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		envVars map[string]string
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name:    "defaults with endpoint from environment",
			envVars: map[string]string{"SENTRY_ALERT_ENDPOINT": "https://hooks.example.com/abc"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 1000, c.Motion.AreaThreshold)
				assert.Equal(t, 5*time.Second, c.Recording.Buffer())
				assert.Equal(t, 2, c.Alert.RetryCount)
				assert.Equal(t, 2*time.Second, c.Alert.RetryDelay())
				assert.Equal(t, 20*time.Second, c.Alert.Timeout())
				assert.Equal(t, "recordings", c.Recording.OutputDir)
				assert.Equal(t, 85, c.Alert.JPEGQuality)
				assert.True(t, c.Alert.DeleteOnSuccess)
				assert.Equal(t, 640, c.Camera.Width)
				assert.Equal(t, 480, c.Camera.Height)
			},
		},
		{
			name: "yaml overrides defaults and keeps unset keys",
			yaml: `
instance_id: porch-cam
motion:
  area_threshold: 1500
recording:
  buffer_seconds: 3.5
  output_dir: /var/lib/sentry
alert:
  endpoint: https://hooks.example.com/yaml
  retry_count: 0
  delete_on_success: false
mqtt:
  broker: localhost:1883
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "porch-cam", c.InstanceID)
				assert.Equal(t, 1500, c.Motion.AreaThreshold)
				assert.Equal(t, 20, c.Motion.IntensityCutoff)
				assert.Equal(t, 3500*time.Millisecond, c.Recording.Buffer())
				assert.Equal(t, 0, c.Alert.RetryCount)
				assert.False(t, c.Alert.DeleteOnSuccess)
				assert.Equal(t, "sentry/porch-cam", c.MQTT.TopicPrefix)
			},
		},
		{
			name: "environment wins over yaml",
			yaml: `
alert:
  endpoint: https://hooks.example.com/yaml
motion:
  area_threshold: 1500
`,
			envVars: map[string]string{
				"SENTRY_ALERT_ENDPOINT":        "https://hooks.example.com/env",
				"SENTRY_MOTION_AREA_THRESHOLD": "1200",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "https://hooks.example.com/env", c.Alert.Endpoint)
				assert.Equal(t, 1200, c.Motion.AreaThreshold)
			},
		},
		{
			name:    "fails without endpoint",
			wantErr: "alert.endpoint is required",
		},
		{
			name: "fails on rtsp without url",
			yaml: `
camera:
  source: rtsp
alert:
  endpoint: https://hooks.example.com/x
`,
			wantErr: "camera.rtsp_url is required",
		},
		{
			name: "fails on even blur kernel",
			yaml: `
motion:
  blur_kernel: 4
alert:
  endpoint: https://hooks.example.com/x
`,
			wantErr: "motion.blur_kernel",
		},
		{
			name: "fails on unknown audio mode",
			yaml: `
audio:
  enabled: true
  mode: sometimes
alert:
  endpoint: https://hooks.example.com/x
`,
			wantErr: "audio.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SENTRY_ALERT_ENDPOINT", "")
			os.Unsetenv("SENTRY_ALERT_ENDPOINT")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "event_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"event_id":"abc"`)
}
