package auth

import (
	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// Reason is the rejection taxonomy reported in logs and span attributes.
// Callers never see it; every reason produces the same 401.
type Reason int

const (
	// ReasonNone means the error is nil.
	ReasonNone Reason = iota

	// ReasonUnauthorized: the Authorization header is absent or is not a
	// bearer credential.
	ReasonUnauthorized

	// ReasonInvalidToken: malformed header or claims, unsupported
	// algorithm, bad signature, expiry, audience or issuer mismatch.
	ReasonInvalidToken

	// ReasonInvalidKey: the key-set entry for the token's kid cannot
	// verify the token's algorithm.
	ReasonInvalidKey

	// ReasonNoMatchingKey: the kid is absent even after a forced refresh.
	ReasonNoMatchingKey

	// ReasonUpstreamKeyFetch: the key set could not be fetched or parsed.
	ReasonUpstreamKeyFetch

	// ReasonInternal: an error outside the authentication taxonomy.
	ReasonInternal
)

// String returns the snake_case name used in logs.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonInvalidToken:
		return "invalid_token"
	case ReasonInvalidKey:
		return "invalid_key"
	case ReasonNoMatchingKey:
		return "no_matching_key"
	case ReasonUpstreamKeyFetch:
		return "upstream_key_fetch_error"
	default:
		return "internal"
	}
}

// ReasonOf classifies err by its outermost code.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	switch sserr.GetCode(err) {
	case sserr.CodeAuthenticationMissing:
		return ReasonUnauthorized
	case sserr.CodeAuthenticationKeyInvalid:
		return ReasonInvalidKey
	case sserr.CodeAuthenticationNoKey:
		return ReasonNoMatchingKey
	case sserr.CodeUnavailableKeySet:
		return ReasonUpstreamKeyFetch
	default:
		if sserr.IsAuthentication(err) {
			return ReasonInvalidToken
		}
		return ReasonInternal
	}
}
