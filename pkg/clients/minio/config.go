package minio

import (
	"errors"
	"strings"
	"time"
)

// maxStatementTruncateLen bounds the db.statement span attribute.
const maxStatementTruncateLen = 100

const (
	// DefaultRegion is the S3 region reported to the server.
	DefaultRegion = "us-east-1"

	// DefaultBucket holds the key-set snapshot object.
	DefaultBucket = "authgate"

	// DefaultHealthTimeout applies to Health when ctx has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultMaxObjectBytes caps GetObject reads. A key-set snapshot is a
	// few kilobytes.
	DefaultMaxObjectBytes = 1 << 20
)

// Secret hides the MinIO secret key from logs and serialised config.
type Secret string

const redacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the raw secret key.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config is the MinIO connection configuration. An empty Endpoint leaves
// object storage disabled.
type Config struct {
	// Endpoint is host:port without a scheme, e.g. "minio:9000".
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty" env:"ENDPOINT"`

	// AccessKey is the access key ID.
	AccessKey string `yaml:"access_key" json:"access_key,omitempty" env:"ACCESS_KEY"`

	// SecretKey is the secret access key.
	SecretKey Secret `yaml:"secret_key" json:"-" env:"SECRET_KEY"`

	// Bucket holds authgate's objects. Default: "authgate".
	Bucket string `yaml:"bucket" json:"bucket,omitempty" env:"BUCKET" envDefault:"authgate"`

	// Region is the S3 region. Default: "us-east-1".
	Region string `yaml:"region" json:"region,omitempty" env:"REGION" envDefault:"us-east-1"`

	// UseSSL enables TLS to the server.
	UseSSL bool `yaml:"use_ssl" json:"use_ssl,omitempty" env:"USE_SSL"`

	// CreateBucket makes the bucket on startup when it does not exist.
	CreateBucket bool `yaml:"create_bucket" json:"create_bucket,omitempty" env:"CREATE_BUCKET"`
}

// Enabled reports whether an endpoint is configured.
func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("minio: config endpoint must be host:port without a scheme")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	return nil
}

// truncateStatement shortens s to [maxStatementTruncateLen] runes.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
