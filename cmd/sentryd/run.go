package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the camera until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting sentry",
				"version", version,
				"instance_id", cfg.InstanceID,
				"source", cfg.Camera.Source,
				"config", opts.configPath,
			)

			svc, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			if err := svc.Run(ctx); err != nil {
				slog.Error("sentry stopped on capture failure", "error", err)
				return err
			}
			slog.Info("sentry stopped")
			return nil
		},
	}
}
