package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// Claims is the verified claim set. It is only ever returned by [Verify]
// after the signature and every registered-claim check has passed.
type Claims struct {
	jwt.RegisteredClaims

	// Email is the caller's email address; empty when the provider
	// omitted it (e.g. phone or anonymous sign-in).
	Email string `json:"email,omitempty"`

	// Role is the provider-assigned database role, e.g. "authenticated".
	Role string `json:"role,omitempty"`
}

// Expectations are the fixed values a token must match.
type Expectations struct {
	Audience           string
	Issuer             string
	Leeway             time.Duration
	RequireUUIDSubject bool
}

// Verify checks token against key under exactly alg. The signature is
// checked first, then exp (which must be after now, less Leeway), then
// aud and iss by exact match. A token that fails several checks reports
// the first in that order.
//
// The parser is restricted to alg alone, so a token whose header names a
// different algorithm fails signature verification regardless of key.
func Verify(token string, key VerificationKey, alg Algorithm, exp Expectations, now time.Time) (*Claims, error) {
	if alg.IsZero() {
		return nil, sserr.New(sserr.CodeAuthenticationAlgorithm, "auth: no algorithm resolved")
	}
	if key == nil || key.material() == nil {
		return nil, sserr.New(sserr.CodeAuthenticationKeyInvalid, "auth: no key material")
	}
	if key.Family() != alg.Family() {
		return nil, sserr.Newf(sserr.CodeAuthenticationKeyInvalid,
			"auth: %s key cannot verify %s", key.Family(), alg.Name())
	}
	if exp.Audience == "" || exp.Issuer == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: audience and issuer expectations are required")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{alg.Name()}),
		jwt.WithAudience(exp.Audience),
		jwt.WithIssuer(exp.Issuer),
		jwt.WithLeeway(exp.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key.material(), nil
	}); err != nil {
		return nil, classifyVerifyError(err)
	}

	if claims.Subject == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token has no subject")
	}
	if exp.RequireUUIDSubject {
		if _, err := uuid.Parse(claims.Subject); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token subject is not a UUID")
		}
	}
	return claims, nil
}

// classifyVerifyError maps golang-jwt sentinels to codes. Claim errors
// from the library are joined, so the checks run in reporting order.
func classifyVerifyError(err error) *sserr.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthenticationAudience, "auth: token audience mismatch")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationIssuer, "auth: token issuer mismatch")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	}
}
