package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/sentry/internal/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckRedactsEndpoint(t *testing.T) {
	t.Setenv("SENTRY_ALERT_ENDPOINT", "https://hooks.example.com/secret-token")
	t.Setenv("SENTRY_CAMERA_SOURCE", "mock")

	out, err := execute(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "endpoint: <redacted>")
	assert.Contains(t, out, "source: mock")
	assert.NotContains(t, out, "secret-token")
}

func TestCheckRejectsMissingEndpoint(t *testing.T) {
	t.Setenv("SENTRY_ALERT_ENDPOINT", "")
	_, err := execute(t, "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert.endpoint is required")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "sentryd dev\n", out)
}

func TestSendDeliversAndDeletes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	t.Setenv("SENTRY_ALERT_ENDPOINT", srv.URL)

	dir := t.TempDir()
	clip := filepath.Join(dir, "motion_2026-01-02_03-04-05.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("video"), 0o644))

	out, err := execute(t, "send", clip)
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 1 delivered")
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, clip)
}

func TestSendKeepsUndelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	t.Setenv("SENTRY_ALERT_ENDPOINT", srv.URL)
	t.Setenv("SENTRY_ALERT_RETRY_COUNT", "0")

	dir := t.TempDir()
	clip := filepath.Join(dir, "motion.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("video"), 0o644))

	out, err := execute(t, "send", clip, filepath.Join(dir, "missing.mp4"))
	require.ErrorIs(t, err, errUndelivered)
	assert.Contains(t, out, "0 of 2 delivered")
	assert.FileExists(t, clip)
}

func TestArtifactFor(t *testing.T) {
	dir := t.TempDir()
	for name, kind := range map[string]types.ArtifactKind{
		"a.mp4": types.ArtifactVideo,
		"a.WAV": types.ArtifactAudio,
		"a.jpg": types.ArtifactSnapshot,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		a, err := artifactFor(path)
		require.NoError(t, err)
		assert.Equal(t, kind, a.Kind, name)
	}

	_, err := artifactFor(dir)
	assert.Error(t, err)
}
