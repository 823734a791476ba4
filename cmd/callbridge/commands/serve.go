package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/callbridge/pkg/callbridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge",
	Long: `Run the HTTP bridge.

Endpoints:
  POST /start-call     {"customer":{"name":"...","number":"+1..."}}
  GET  /sessions       ?status=&limit=&offset=
  GET  /sessions/{id}
  GET  /healthz

A /start-call request is held open until the call's observation window ends.
Changing log.level in the config file takes effect without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, lv, err := setupLogging(cmd.OutOrStdout(), cfg)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		opts := []callbridge.Option{callbridge.WithLogger(logger, lv)}
		if path := configPath(); path != "" && logLevel == "" {
			opts = append(opts, callbridge.WithConfigFile(path))
		} else {
			opts = append(opts, callbridge.WithConfig(cfg))
		}

		b, err := callbridge.New(opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := b.Start(ctx); err != nil {
			return err
		}

		served := make(chan error, 1)
		go func() { served <- b.Wait() }()

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, stopping bridge")
		case err := <-served:
			if err != nil {
				logger.Error("server stopped", slog.String("error", err.Error()))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return b.Shutdown(shutdownCtx)
	},
}
