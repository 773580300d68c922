// Package redis is the Redis client authgate uses to share the verified
// key-set snapshot between replicas.
//
// The client wraps go-redis (github.com/redis/go-redis/v9) and adds
// OpenTelemetry spans and [sserr] error classification to every command.
// It satisfies keyset.RedisClient:
//
//	client, err := redis.NewClient(ctx, cfg)
//	if err != nil { ... }
//	defer client.Close()
//	store := keyset.NewRedisStore(client, "", cache.TTL())
//
// For tests, inject a mock with [NewFromClient].
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen bounds the db.statement span attribute.
const maxStatementTruncateLen = 100

const (
	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultPoolSize is the maximum number of pooled connections. The
	// gateway issues at most a couple of commands per key-set refresh, so
	// the pool stays small.
	DefaultPoolSize = 5

	// DefaultMaxRetries is the go-redis command retry budget.
	DefaultMaxRetries = 1

	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 5 * time.Second

	// DefaultReadTimeout bounds one reply.
	DefaultReadTimeout = 2 * time.Second

	// DefaultWriteTimeout bounds one write.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultHealthTimeout applies to Health when ctx has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret hides the Redis password from logs and serialised config.
type Secret string

const redacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the raw password.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config is the Redis connection configuration. Redis is optional for
// authgate: an empty URI and Host leave it disabled. When URI is set it
// takes precedence over the structured fields.
type Config struct {
	// URI is "redis://[:password@]host:port/db" or the rediss:// TLS form.
	URI string `yaml:"uri" json:"uri,omitempty" env:"URI"`

	// Host is the server hostname.
	Host string `yaml:"host" json:"host,omitempty" env:"HOST"`

	// Port is the server port. Default: 6379.
	Port int `yaml:"port" json:"port,omitempty" env:"PORT"`

	// DB is the database index.
	DB int `yaml:"db" json:"db" env:"DB"`

	// Password authenticates the connection.
	Password Secret `yaml:"password" json:"-" env:"PASSWORD"`

	// KeyPrefix namespaces the key-set snapshot key.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix,omitempty" env:"KEY_PREFIX" envDefault:"authgate:"`

	PoolSize     int           `yaml:"pool_size" json:"pool_size,omitempty" env:"POOL_SIZE"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries,omitempty" env:"MAX_RETRIES"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout,omitempty" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout,omitempty" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout,omitempty" env:"WRITE_TIMEOUT"`

	// TLSEnabled turns on TLS for structured configuration. rediss://
	// URIs enable it automatically.
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled,omitempty" env:"TLS_ENABLED"`
}

// Enabled reports whether a Redis server is configured.
func (c *Config) Enabled() bool {
	return c.URI != "" || c.Host != ""
}

// Validate applies defaults to zero-valued fields and checks the rest.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		return fmt.Errorf("redis: config requires uri or host")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement shortens s to maxStatementTruncateLen runes.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
