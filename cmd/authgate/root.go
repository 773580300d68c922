package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/authgate/internal/server"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "Bearer-token verification gateway",
		Long: `authgate verifies JSON Web Tokens issued by an external identity provider
and serves an authenticated API in front of an optional REST backend and
PostgreSQL database. Configuration comes from AUTHGATE_* environment
variables and an optional YAML or JSON file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML or JSON configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides AUTHGATE_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format (json, text)")

	cmd.AddCommand(newServeCmd(opts), newKeysCmd(opts))
	return cmd
}

// newLogger builds the process logger. The flag level wins over the
// configured one.
func (o *rootOptions) newLogger(w io.Writer, configured string) (*slog.Logger, error) {
	name := configured
	if o.logLevel != "" {
		name = o.logLevel
	}
	level, err := server.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if o.logFormat == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
}

func (o *rootOptions) loadConfig() (server.Config, error) {
	return server.Load(o.configPath, os.LookupEnv)
}
