package server

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/authgate/pkg/auth"
	"github.com/StricklySoft/authgate/pkg/clients/minio"
	"github.com/StricklySoft/authgate/pkg/clients/postgres"
	"github.com/StricklySoft/authgate/pkg/clients/redis"
	"github.com/StricklySoft/authgate/pkg/config"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// EnvPrefix is prepended to every environment variable the gateway reads.
const EnvPrefix = "AUTHGATE"

// Config is the gateway configuration. Redis, MinIO and Postgres are
// optional; each is enabled by setting its address.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr" json:"http_addr" env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GRPCAddr        string        `yaml:"grpc_addr" json:"grpc_addr,omitempty" env:"GRPC_ADDR"`
	LogLevel        string        `yaml:"log_level" json:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// BackendURL is the REST backend proxied under /v1/rest. Empty
	// disables the proxy.
	BackendURL string `yaml:"backend_url" json:"backend_url,omitempty" env:"BACKEND_URL"`

	// BackendAPIKey is sent as the apikey header on every proxied call.
	BackendAPIKey auth.Secret `yaml:"backend_api_key" json:"-" env:"BACKEND_API_KEY"`

	Auth     auth.Config     `yaml:"auth" json:"auth" env:"AUTH"`
	Redis    redis.Config    `yaml:"redis" json:"redis" env:"REDIS"`
	MinIO    minio.Config    `yaml:"minio" json:"minio" env:"MINIO"`
	Postgres postgres.Config `yaml:"postgres" json:"postgres" env:"POSTGRES"`
}

// Load reads the configuration from defaults, the optional file at path
// and AUTHGATE_* environment variables.
func Load(path string, lookup config.LookupFunc) (Config, error) {
	var cfg Config
	loader := config.New().WithEnvPrefix(EnvPrefix).WithLookup(lookup)
	if path != "" {
		loader = loader.WithFile(path)
	}
	if err := loader.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the gateway settings and every enabled collaborator.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return sserr.New(sserr.CodeValidationRequired, "server: http_addr must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return sserr.New(sserr.CodeValidationRange, "server: shutdown_timeout must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return sserr.Newf(sserr.CodeValidation, "server: backend_url %q is not an absolute http(s) URL", c.BackendURL)
		}
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.Redis.Enabled() {
		if err := c.Redis.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "server: invalid redis configuration")
		}
	}
	if c.MinIO.Enabled() {
		if err := c.MinIO.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "server: invalid minio configuration")
		}
	}
	if c.Postgres.Enabled() {
		if err := c.Postgres.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "server: invalid postgres configuration")
		}
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, sserr.Newf(sserr.CodeValidation, "server: unknown log level %q", level)
	}
}
