package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/authgate/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.newLogger(cmd.OutOrStdout(), cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "starting authgate",
				"version", version,
				"http_addr", cfg.HTTPAddr,
				"grpc_addr", cfg.GRPCAddr,
				"issuer", cfg.Auth.ExpectedIssuer(),
				"jwks_url", cfg.Auth.JWKSURL(),
			)

			deps, err := server.Open(ctx, cfg, logger)
			if err != nil {
				logger.ErrorContext(ctx, "failed to open collaborators", "error", err)
				return err
			}
			srv, err := server.New(cfg, deps, version, logger)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil {
				logger.ErrorContext(ctx, "authgate stopped with error", "error", err)
				return err
			}
			logger.Info("authgate stopped")
			return nil
		},
	}
}
