package auth

import (
	"net/url"
	"strings"
	"time"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const (
	// DefaultAudience is the audience every accepted token must carry.
	DefaultAudience = "authenticated"

	// DefaultClockSkew is the leeway applied to exp and iat checks.
	DefaultClockSkew = 5 * time.Second

	// MaxClockSkew is the largest leeway Config.Validate accepts.
	MaxClockSkew = 60 * time.Second

	// DefaultMaxTokenSize is the largest bearer token, in bytes, that is
	// parsed at all.
	DefaultMaxTokenSize = 8192

	issuerPath   = "/auth/v1"
	keySetPath   = "/auth/v1/.well-known/jwks.json"
	minKeySetTTL = time.Second
)

// Config configures an [Authenticator]. It is loaded by pkg/config; the
// env tags below are relative to the enclosing struct's prefix.
type Config struct {
	// ProviderURL is the identity provider's base address, for example
	// "https://proj.example.com". The issuer and default key-set URL are
	// derived from it.
	ProviderURL string `yaml:"provider_url" json:"provider_url" env:"PROVIDER_URL" required:"true"`

	// KeySetURL overrides the derived key-set endpoint.
	KeySetURL string `yaml:"jwks_url" json:"jwks_url" env:"JWKS_URL"`

	// SharedSecret enables the HS256/384/512 path. Empty disables it.
	SharedSecret Secret `yaml:"jwt_secret" json:"-" env:"JWT_SECRET"`

	// Audience is matched exactly against the aud claim.
	Audience string `yaml:"audience" json:"audience" env:"AUDIENCE" envDefault:"authenticated"`

	// Issuer overrides the derived "<ProviderURL>/auth/v1".
	Issuer string `yaml:"issuer" json:"issuer" env:"ISSUER"`

	// KeySetTTL is how long a fetched key set is trusted.
	KeySetTTL time.Duration `yaml:"key_set_ttl" json:"key_set_ttl" env:"KEY_SET_TTL" envDefault:"5m"`

	// FetchTimeout bounds one key-set request.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"10s"`

	// ClockSkew is the leeway for exp and iat, between 0 and 60s.
	ClockSkew time.Duration `yaml:"clock_skew" json:"clock_skew" env:"CLOCK_SKEW" envDefault:"5s"`

	// RequireUUIDSubject rejects tokens whose sub is not a UUID.
	RequireUUIDSubject bool `yaml:"require_uuid_subject" json:"require_uuid_subject" env:"REQUIRE_UUID_SUBJECT" envDefault:"true"`

	// MaxTokenSize is the largest accepted token in bytes.
	MaxTokenSize int `yaml:"max_token_size" json:"max_token_size" env:"MAX_TOKEN_SIZE" envDefault:"8192"`
}

// DefaultConfig returns a Config for providerURL with every other field at
// its documented default.
func DefaultConfig(providerURL string) Config {
	return Config{
		ProviderURL:        providerURL,
		Audience:           DefaultAudience,
		KeySetTTL:          5 * time.Minute,
		FetchTimeout:       10 * time.Second,
		ClockSkew:          DefaultClockSkew,
		RequireUUIDSubject: true,
		MaxTokenSize:       DefaultMaxTokenSize,
	}
}

func (c Config) baseURL() string {
	return strings.TrimRight(c.ProviderURL, "/")
}

// ExpectedIssuer returns the issuer every accepted token must carry.
func (c Config) ExpectedIssuer() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return c.baseURL() + issuerPath
}

// JWKSURL returns the key-set endpoint.
func (c Config) JWKSURL() string {
	if c.KeySetURL != "" {
		return c.KeySetURL
	}
	return c.baseURL() + keySetPath
}

// Validate checks the configuration. It is called by pkg/config after
// loading and by [NewAuthenticator].
func (c *Config) Validate() error {
	if err := validateAbsoluteURL("provider_url", c.ProviderURL); err != nil {
		return err
	}
	if c.KeySetURL != "" {
		if err := validateAbsoluteURL("jwks_url", c.KeySetURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Audience) == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: audience must not be empty")
	}
	if c.KeySetTTL < minKeySetTTL {
		return sserr.Newf(sserr.CodeValidationRange, "auth: key_set_ttl %s is below %s", c.KeySetTTL, minKeySetTTL)
	}
	if c.FetchTimeout <= 0 {
		return sserr.New(sserr.CodeValidationRange, "auth: fetch_timeout must be positive")
	}
	if c.ClockSkew < 0 || c.ClockSkew > MaxClockSkew {
		return sserr.Newf(sserr.CodeValidationRange, "auth: clock_skew %s is outside [0s, %s]", c.ClockSkew, MaxClockSkew)
	}
	if c.MaxTokenSize <= 0 {
		return sserr.New(sserr.CodeValidationRange, "auth: max_token_size must be positive")
	}
	return nil
}

func validateAbsoluteURL(field, raw string) error {
	if raw == "" {
		return sserr.Newf(sserr.CodeValidationRequired, "auth: %s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return sserr.Newf(sserr.CodeValidation, "auth: %s %q is not an absolute http(s) URL", field, raw)
	}
	return nil
}
