// Package fixtures builds signed tokens, key pairs and key-set servers
// for tests.
//
// The constants mirror a provider project at https://proj.example.com
// with the shared secret "test-secret".
package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authgate/pkg/keyset"
)

const (
	// ProviderURL is the identity provider base address.
	ProviderURL = "https://proj.example.com"

	// Issuer is ProviderURL + "/auth/v1".
	Issuer = ProviderURL + "/auth/v1"

	// Audience is the default accepted audience.
	Audience = "authenticated"

	// SharedSecret signs HS* tokens.
	SharedSecret = "test-secret"

	// Subject is a UUID caller id.
	Subject = "11111111-1111-1111-1111-111111111111"

	// Email is the caller email claim.
	Email = "user@example.com"

	// Role is the caller role claim.
	Role = "authenticated"
)

// Now is a fixed instant used by tests that inject a clock.
var Now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Claims returns a claim set that passes every check at now and expires
// an hour later.
func Claims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   Subject,
		"aud":   Audience,
		"iss":   Issuer,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"email": Email,
		"role":  Role,
	}
}

// With returns a copy of claims with the given overrides. A nil value
// removes the claim.
func With(claims jwt.MapClaims, overrides map[string]any) jwt.MapClaims {
	out := make(jwt.MapClaims, len(claims)+len(overrides))
	for k, v := range claims {
		out[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Signer signs tokens with one key under one algorithm.
type Signer struct {
	Method jwt.SigningMethod
	KeyID  string
	key    any
	jwk    keyset.Key
}

// Sign returns the compact token for claims.
func (s *Signer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(s.Method, claims)
	if s.KeyID != "" {
		tok.Header["kid"] = s.KeyID
	}
	signed, err := tok.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

// JWK returns the public key-set entry for the signer. It is the zero
// Key for HMAC signers.
func (s *Signer) JWK() keyset.Key { return s.jwk }

// HMAC returns a signer for secret under method (HS256, HS384, HS512).
func HMAC(method *jwt.SigningMethodHMAC, secret string) *Signer {
	return &Signer{Method: method, key: []byte(secret)}
}

// RSA generates a 2048-bit key and returns a signer for it.
func RSA(t testing.TB, kid string, method *jwt.SigningMethodRSA) *Signer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &Signer{
		Method: method,
		KeyID:  kid,
		key:    priv,
		jwk:    RSAJWK(kid, method.Alg(), &priv.PublicKey),
	}
}

// EC generates a key on the curve matching method and returns a signer
// for it.
func EC(t testing.TB, kid string, method *jwt.SigningMethodECDSA) *Signer {
	t.Helper()
	var curve elliptic.Curve
	switch method.Alg() {
	case "ES256":
		curve = elliptic.P256()
	case "ES384":
		curve = elliptic.P384()
	default:
		curve = elliptic.P521()
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return &Signer{
		Method: method,
		KeyID:  kid,
		key:    priv,
		jwk:    ECJWK(kid, method.Alg(), &priv.PublicKey),
	}
}

// RSAJWK encodes pub as a key-set entry.
func RSAJWK(kid, alg string, pub *rsa.PublicKey) keyset.Key {
	return keyset.Key{
		ID:        kid,
		Type:      keyset.KeyTypeRSA,
		Algorithm: alg,
		Use:       "sig",
		N:         b64(pub.N.Bytes()),
		E:         b64(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ECJWK encodes pub as a key-set entry with fixed-width coordinates.
func ECJWK(kid, alg string, pub *ecdsa.PublicKey) keyset.Key {
	size := (pub.Curve.Params().BitSize + 7) / 8
	return keyset.Key{
		ID:        kid,
		Type:      keyset.KeyTypeEC,
		Algorithm: alg,
		Use:       "sig",
		Curve:     pub.Curve.Params().Name,
		X:         b64(pub.X.FillBytes(make([]byte, size))),
		Y:         b64(pub.Y.FillBytes(make([]byte, size))),
	}
}

// Unsigned returns an alg "none" token.
func Unsigned(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return signed
}

// Raw assembles a token from an arbitrary header and payload with the
// given signature segment. Used for tokens no signer would produce.
func Raw(t testing.TB, header, payload map[string]any, signature string) string {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	return strings.Join([]string{b64(h), b64(p), signature}, ".")
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
