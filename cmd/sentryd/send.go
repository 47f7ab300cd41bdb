package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/care/sentry/internal/config"
	"github.com/care/sentry/internal/dispatch"
	"github.com/care/sentry/internal/types"
	"github.com/care/sentry/internal/vision/raster"
	"github.com/care/sentry/internal/webhook"
)

var errUndelivered = errors.New("artifacts left undelivered")

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send FILE...",
		Short: "Deliver recordings left on disk after failed deliveries",
		Long: `send re-delivers artifacts that a previous run could not deliver. Each
file goes through the same retry policy as live recordings and is deleted
after a successful delivery when alert.delete_on_success is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			return sendFiles(cmd, cfg, args)
		},
	}
}

func sendFiles(cmd *cobra.Command, cfg *config.Config, paths []string) error {
	client := webhook.New(webhook.Options{
		Endpoint:  cfg.Alert.Endpoint,
		Timeout:   cfg.Alert.Timeout(),
		UserAgent: "sentryd/" + version,
	})
	disp := dispatch.New(client, raster.Encoder{}, dispatch.Options{
		MaxRetries:      cfg.Alert.RetryCount,
		RetryDelay:      cfg.Alert.RetryDelay(),
		DeleteOnSuccess: cfg.Alert.DeleteOnSuccess,
	}, nil)

	failed := 0
	for _, path := range paths {
		a, err := artifactFor(path)
		if err != nil {
			slog.Error("skipping file", "path", path, "error", err)
			failed++
			continue
		}
		if !disp.SendArtifact(cmd.Context(), a, cfg.Alert.RetryCount, cfg.Alert.RetryDelay()) {
			failed++
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d delivered\n", len(paths)-failed, len(paths))
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errUndelivered, failed, len(paths))
	}
	return nil
}

// artifactFor describes a file on disk. The capture time is taken from its
// modification time.
func artifactFor(path string) (types.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Artifact{}, err
	}
	if info.IsDir() {
		return types.Artifact{}, fmt.Errorf("%s is a directory", path)
	}

	kind := types.ArtifactVideo
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".mp3", ".ogg":
		kind = types.ArtifactAudio
	case ".jpg", ".jpeg", ".png":
		kind = types.ArtifactSnapshot
	}
	return types.Artifact{Path: path, Kind: kind, ProducedAt: info.ModTime()}, nil
}
