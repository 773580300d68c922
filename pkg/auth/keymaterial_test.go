package auth

import (
	"crypto/elliptic"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authgate/internal/testutil"
	"github.com/StricklySoft/authgate/internal/testutil/fixtures"
	"github.com/StricklySoft/authgate/pkg/keyset"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// Shared secret
// ---------------------------------------------------------------------------

func TestNewSharedSecretKey(t *testing.T) {
	t.Parallel()

	key, err := NewSharedSecretKey(fixtures.SharedSecret)
	require.NoError(t, err)
	assert.Equal(t, FamilySharedSecret, key.Family())

	_, err = NewSharedSecretKey("")
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationKeyInvalid)
}

// ---------------------------------------------------------------------------
// BuildKey
// ---------------------------------------------------------------------------

func TestBuildKey_EC(t *testing.T) {
	t.Parallel()

	for _, method := range []*jwt.SigningMethodECDSA{jwt.SigningMethodES256, jwt.SigningMethodES384, jwt.SigningMethodES512} {
		signer := fixtures.EC(t, "k1", method)
		key, err := BuildKey(signer.JWK(), mustAlgorithm(t, method.Alg()))
		require.NoError(t, err, method.Alg())

		ec, ok := key.(ECKey)
		require.True(t, ok)
		assert.Equal(t, FamilyEllipticCurve, ec.Family())
		assert.NotNil(t, ec.PublicKey())
	}
}

func TestBuildKey_ECShortCoordinatesArePadded(t *testing.T) {
	t.Parallel()

	// Find a generated key whose x has a leading zero byte, then strip it
	// the way some publishers do.
	var entry keyset.Key
	for i := 0; i < 2000; i++ {
		signer := fixtures.EC(t, "k1", jwt.SigningMethodES256)
		x, _ := base64.RawURLEncoding.DecodeString(signer.JWK().X)
		if x[0] == 0 {
			entry = signer.JWK()
			entry.X = base64.RawURLEncoding.EncodeToString(x[1:])
			break
		}
	}
	if entry.X == "" {
		t.Skip("no key with a leading zero coordinate generated")
	}

	_, err := BuildKey(entry, mustAlgorithm(t, "ES256"))
	assert.NoError(t, err)
}

func TestBuildKey_RSA(t *testing.T) {
	t.Parallel()

	signer := fixtures.RSA(t, "k1", jwt.SigningMethodRS256)
	key, err := BuildKey(signer.JWK(), mustAlgorithm(t, "RS256"))
	require.NoError(t, err)

	r, ok := key.(RSAKey)
	require.True(t, ok)
	assert.Equal(t, 65537, r.PublicKey().E)
	assert.Equal(t, 2048, r.PublicKey().N.BitLen())

	entry := signer.JWK()
	entry.Algorithm = ""
	entry.Use = ""
	_, err = BuildKey(entry, mustAlgorithm(t, "RS512"))
	assert.NoError(t, err, "an entry without alg may verify any RSA algorithm")
}

func TestBuildKey_InvalidEntries(t *testing.T) {
	t.Parallel()

	ec := fixtures.EC(t, "ec", jwt.SigningMethodES256).JWK()
	rsaKey := fixtures.RSA(t, "rsa", jwt.SigningMethodRS256).JWK()
	otherCurve := fixtures.EC(t, "p384", jwt.SigningMethodES384).JWK()

	mutate := func(k keyset.Key, f func(*keyset.Key)) keyset.Key {
		f(&k)
		return k
	}

	offCurve := mutate(ec, func(k *keyset.Key) {
		y, _ := base64.RawURLEncoding.DecodeString(k.Y)
		y[len(y)-1] ^= 0x01
		k.Y = base64.RawURLEncoding.EncodeToString(y)
	})

	small := new(big.Int).Lsh(big.NewInt(1), 1023)
	small.Add(small, big.NewInt(1))

	tests := []struct {
		name  string
		entry keyset.Key
		alg   string
	}{
		{"RSA entry for ES256", rsaKey, "ES256"},
		{"EC entry for RS256", ec, "RS256"},
		{"EC missing x", mutate(ec, func(k *keyset.Key) { k.X = "" }), "ES256"},
		{"EC missing y", mutate(ec, func(k *keyset.Key) { k.Y = "" }), "ES256"},
		{"EC bad base64", mutate(ec, func(k *keyset.Key) { k.X = "***" }), "ES256"},
		{"EC coordinate too long", mutate(ec, func(k *keyset.Key) { k.X = base64.RawURLEncoding.EncodeToString(make([]byte, 33)) }), "ES256"},
		{"EC point off curve", offCurve, "ES256"},
		{"EC curve mismatch", mutate(ec, func(k *keyset.Key) { k.Curve = "P-384"; k.Algorithm = "" }), "ES256"},
		{"P-384 key for ES256", mutate(otherCurve, func(k *keyset.Key) { k.Algorithm = "" }), "ES256"},
		{"entry alg differs", mutate(ec, func(k *keyset.Key) { k.Algorithm = "ES384" }), "ES256"},
		{"entry use enc", mutate(rsaKey, func(k *keyset.Key) { k.Use = "enc" }), "RS256"},
		{"RSA missing n", mutate(rsaKey, func(k *keyset.Key) { k.N = "" }), "RS256"},
		{"RSA missing e", mutate(rsaKey, func(k *keyset.Key) { k.E = "" }), "RS256"},
		{"RSA bad n", mutate(rsaKey, func(k *keyset.Key) { k.N = "%%" }), "RS256"},
		{"RSA short modulus", mutate(rsaKey, func(k *keyset.Key) {
			k.N = base64.RawURLEncoding.EncodeToString(small.Bytes())
		}), "RS256"},
		{"RSA even exponent", mutate(rsaKey, func(k *keyset.Key) { k.E = base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x00}) }), "RS256"},
		{"RSA exponent one", mutate(rsaKey, func(k *keyset.Key) { k.E = "AQ" }), "RS256"},
		{"RSA huge exponent", mutate(rsaKey, func(k *keyset.Key) { k.E = base64.RawURLEncoding.EncodeToString(make([]byte, 9)) }), "RS256"},
		{"unknown key type", mutate(rsaKey, func(k *keyset.Key) { k.Type = "OKP" }), "RS256"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, err := BuildKey(tt.entry, mustAlgorithm(t, tt.alg))
			assert.Nil(t, key)
			testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationKeyInvalid)
		})
	}
}

func TestBuildKey_SharedSecretAlgorithmRejected(t *testing.T) {
	t.Parallel()

	entry := fixtures.RSA(t, "k1", jwt.SigningMethodRS256).JWK()
	_, err := BuildKey(entry, mustAlgorithm(t, "HS256"))
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationAlgorithm)

	_, err = BuildKey(entry, Algorithm{})
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationAlgorithm)
}

func TestBuildKey_ReportsKid(t *testing.T) {
	t.Parallel()

	entry := keyset.Key{ID: "k9", Type: keyset.KeyTypeEC, Curve: elliptic.P256().Params().Name}
	_, err := BuildKey(entry, mustAlgorithm(t, "ES256"))
	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "k9", e.Details["kid"])
}
