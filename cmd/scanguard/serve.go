package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scanguard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, gRPC and metrics servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.NewApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Error("shutdown", "err", err)
			}
		}()

		err = app.Server.Run(ctx)
		logger.Info("stopped")
		return err
	},
}
