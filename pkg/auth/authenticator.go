// Package auth authenticates bearer JSON Web Tokens issued by an external
// identity provider.
//
// A request passes through a fixed sequence: the token header is resolved
// to a supported [Algorithm] without trusting it; the verification key is
// taken from the configured shared secret or, for EC and RSA tokens, from
// the provider's published key set via a [KeyProvider]; [Verify] then
// checks the signature and the exp, aud and iss claims; and only then is
// an [IdentityContext] built. Any failure rejects the request.
//
// The key set is cached by pkg/keyset. When a token names a key id that
// the cached set does not contain, the cache is invalidated and refreshed
// once before the token is rejected, so a provider key rotation is picked
// up without waiting for the TTL.
//
// Transport adapters ([HTTPMiddleware], [UnaryServerInterceptor]) turn
// every failure into the same 401 / Unauthenticated response and log the
// precise reason server-side together with the token length, never the
// token itself.
package auth

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/authgate/pkg/keyset"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/auth"

// KeyProvider supplies the published key set. *keyset.Cache implements it.
type KeyProvider interface {
	Get(ctx context.Context, forceRefresh bool) (*keyset.KeySet, error)
	Invalidate()
}

// Authenticator runs the key resolution state machine. It is safe for
// concurrent use; the only shared mutable state lives in its KeyProvider.
type Authenticator struct {
	secret       Secret
	keys         KeyProvider
	expect       Expectations
	maxTokenSize int
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures an [Authenticator].
type Option func(*Authenticator)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger for key-rotation events.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Authenticator) {
		if t != nil {
			a.tracer = t
		}
	}
}

// NewAuthenticator validates cfg and returns an Authenticator drawing
// asymmetric keys from keys.
func NewAuthenticator(cfg Config, keys KeyProvider, opts ...Option) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "auth: key provider is required")
	}

	a := &Authenticator{
		secret: cfg.SharedSecret,
		keys:   keys,
		expect: Expectations{
			Audience:           cfg.Audience,
			Issuer:             cfg.ExpectedIssuer(),
			Leeway:             cfg.ClockSkew,
			RequireUUIDSubject: cfg.RequireUUIDSubject,
		},
		maxTokenSize: cfg.MaxTokenSize,
		now:          time.Now,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewKeyCache returns the key-set cache described by cfg: an HTTP source
// for cfg.JWKSURL() with cfg.FetchTimeout, cached for cfg.KeySetTTL.
func NewKeyCache(cfg Config, opts ...keyset.CacheOption) *keyset.Cache {
	source := keyset.NewHTTPSource(cfg.JWKSURL(), keyset.WithFetchTimeout(cfg.FetchTimeout))
	base := []keyset.CacheOption{
		keyset.WithTTL(cfg.KeySetTTL),
		keyset.WithRefreshTimeout(cfg.FetchTimeout),
	}
	return keyset.NewCache(source, append(base, opts...)...)
}

// Expectations returns the audience, issuer and leeway applied to every
// token.
func (a *Authenticator) Expectations() Expectations { return a.expect }

// Authenticate verifies token and returns the caller's identity. Errors
// are *sserr.Error values; use [ReasonOf] to collapse them into the public
// rejection taxonomy.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (_ *IdentityContext, err error) {
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	span.SetAttributes(attribute.Int("auth.token_length", len(token)))
	defer func() {
		if err != nil {
			span.SetAttributes(
				attribute.String("auth.code", string(sserr.GetCode(err))),
				attribute.String("auth.reason", ReasonOf(err).String()),
			)
		}
		finishSpan(span, err)
	}()

	if token == "" {
		return nil, sserr.Unauthorized("auth: empty bearer token")
	}
	if len(token) > a.maxTokenSize {
		return nil, sserr.Newf(sserr.CodeAuthenticationInvalid, "auth: token exceeds %d bytes", a.maxTokenSize)
	}

	header, err := ResolveHeader(token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.alg", header.Algorithm.Name()),
		attribute.String("auth.family", header.Algorithm.Family().String()),
	)

	key, err := a.resolveKey(ctx, header)
	if err != nil {
		return nil, err
	}

	claims, err := Verify(token, key, header.Algorithm, a.expect, a.now())
	if err != nil {
		return nil, err
	}
	return newIdentityContext(claims, token), nil
}

func (a *Authenticator) resolveKey(ctx context.Context, header Header) (VerificationKey, error) {
	switch header.Algorithm.Family() {
	case FamilySharedSecret:
		key, err := NewSharedSecretKey(a.secret)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid,
				"auth: shared-secret token received but no secret is configured")
		}
		return key, nil
	case FamilyEllipticCurve, FamilyRSA:
		if header.KeyID == "" {
			return nil, sserr.Newf(sserr.CodeAuthenticationInvalid,
				"auth: %s token has no key id", header.Algorithm.Name())
		}
		entry, err := a.lookupKey(ctx, header.KeyID)
		if err != nil {
			return nil, err
		}
		return BuildKey(entry, header.Algorithm)
	default:
		return nil, sserr.New(sserr.CodeAuthenticationAlgorithm, "auth: unsupported algorithm family")
	}
}

// lookupKey finds kid in the cached key set. On a miss it invalidates the
// cache and forces exactly one refresh before giving up.
func (a *Authenticator) lookupKey(ctx context.Context, kid string) (keyset.Key, error) {
	set, err := a.keys.Get(ctx, false)
	if err != nil {
		return keyset.Key{}, keyFetchError(err)
	}
	if entry, ok := set.Lookup(kid); ok {
		return entry, nil
	}

	a.logger.InfoContext(ctx, "key id not in cached key set, forcing refresh", "kid", kid)
	a.keys.Invalidate()

	set, err = a.keys.Get(ctx, true)
	if err != nil {
		return keyset.Key{}, keyFetchError(err)
	}
	if entry, ok := set.Lookup(kid); ok {
		return entry, nil
	}
	return keyset.Key{}, sserr.New(sserr.CodeAuthenticationNoKey,
		"auth: key id not found after refresh").WithDetail("kid", kid)
}

func keyFetchError(err error) error {
	if sserr.HasCode(err, sserr.CodeUnavailableKeySet) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeUnavailableKeySet, "auth: key set unavailable")
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
