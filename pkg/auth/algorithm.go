package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// Family is the closed set of verification paths. The zero value is not a
// family; switches over Family must treat it as a rejection.
type Family int

const (
	_ Family = iota

	// FamilySharedSecret verifies HMAC tokens with the configured secret.
	FamilySharedSecret

	// FamilyEllipticCurve verifies ECDSA tokens with a published EC key.
	FamilyEllipticCurve

	// FamilyRSA verifies RSASSA-PKCS1-v1_5 tokens with a published RSA key.
	FamilyRSA
)

// String returns the family name used in logs.
func (f Family) String() string {
	switch f {
	case FamilySharedSecret:
		return "shared-secret"
	case FamilyEllipticCurve:
		return "elliptic-curve"
	case FamilyRSA:
		return "rsa"
	default:
		return "unsupported"
	}
}

// Asymmetric reports whether the family draws its key from the key set.
func (f Family) Asymmetric() bool {
	return f == FamilyEllipticCurve || f == FamilyRSA
}

// Algorithm is a supported JWS algorithm. Values exist only for the
// entries of the supported table below, so there is no Algorithm that
// means "unsigned".
type Algorithm struct {
	name   string
	family Family
	method jwt.SigningMethod
	curve  string // JWK crv for EC algorithms
}

// Name returns the JWS "alg" value, e.g. "RS256".
func (a Algorithm) Name() string { return a.name }

// Family returns the algorithm's verification family.
func (a Algorithm) Family() Family { return a.family }

// IsZero reports whether a is the zero value rather than a supported
// algorithm.
func (a Algorithm) IsZero() bool { return a.method == nil }

var supportedAlgorithms = map[string]Algorithm{
	"HS256": {name: "HS256", family: FamilySharedSecret, method: jwt.SigningMethodHS256},
	"HS384": {name: "HS384", family: FamilySharedSecret, method: jwt.SigningMethodHS384},
	"HS512": {name: "HS512", family: FamilySharedSecret, method: jwt.SigningMethodHS512},
	"ES256": {name: "ES256", family: FamilyEllipticCurve, method: jwt.SigningMethodES256, curve: "P-256"},
	"ES384": {name: "ES384", family: FamilyEllipticCurve, method: jwt.SigningMethodES384, curve: "P-384"},
	"ES512": {name: "ES512", family: FamilyEllipticCurve, method: jwt.SigningMethodES512, curve: "P-521"},
	"RS256": {name: "RS256", family: FamilyRSA, method: jwt.SigningMethodRS256},
	"RS384": {name: "RS384", family: FamilyRSA, method: jwt.SigningMethodRS384},
	"RS512": {name: "RS512", family: FamilyRSA, method: jwt.SigningMethodRS512},
}

// LookupAlgorithm returns the supported algorithm named name. Matching is
// exact: "rs256" and "none" are both unsupported.
func LookupAlgorithm(name string) (Algorithm, bool) {
	a, ok := supportedAlgorithms[name]
	return a, ok
}

// Header is the unverified token header. Every field is a hint until
// [Verify] succeeds.
type Header struct {
	Algorithm Algorithm
	KeyID     string
	Type      string
}

type rawHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

// ResolveHeader decodes the first segment of a compact JWS and classifies
// its algorithm. It does not look at the payload or the signature.
//
// Errors: [sserr.CodeAuthenticationMalformed] when the token does not have
// three segments or the header is not base64url JSON;
// [sserr.CodeAuthenticationAlgorithm] for any algorithm outside the table,
// including "none".
func ResolveHeader(token string) (Header, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 || segments[0] == "" {
		return Header{}, sserr.New(sserr.CodeAuthenticationMalformed, "auth: token is not a compact JWS")
	}

	raw, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return Header{}, sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "auth: token header is not base64url")
	}

	var h rawHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "auth: token header is not JSON")
	}
	if h.Alg == "" {
		return Header{}, sserr.New(sserr.CodeAuthenticationMalformed, "auth: token header has no alg")
	}

	alg, ok := LookupAlgorithm(h.Alg)
	if !ok {
		return Header{}, sserr.New(sserr.CodeAuthenticationAlgorithm, "auth: unsupported token algorithm").
			WithDetail("alg", truncate(h.Alg, 16))
	}
	return Header{Algorithm: alg, KeyID: h.Kid, Type: h.Typ}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
