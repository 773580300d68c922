package auth

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"math/big"

	"github.com/StricklySoft/authgate/pkg/keyset"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const minRSAModulusBits = 2048

// VerificationKey is key material bound to one family. The interface is
// sealed: the only implementations are [SharedSecretKey], [ECKey] and
// [RSAKey].
type VerificationKey interface {
	Family() Family
	material() any
}

// SharedSecretKey verifies HMAC signatures.
type SharedSecretKey struct {
	secret []byte
}

// Family returns [FamilySharedSecret].
func (SharedSecretKey) Family() Family { return FamilySharedSecret }
func (k SharedSecretKey) material() any {
	if len(k.secret) == 0 {
		return nil
	}
	return k.secret
}

// ECKey verifies ECDSA signatures with a public point (x, y).
type ECKey struct {
	pub *ecdsa.PublicKey
}

// Family returns [FamilyEllipticCurve].
func (ECKey) Family() Family { return FamilyEllipticCurve }
func (k ECKey) material() any {
	if k.pub == nil {
		return nil
	}
	return k.pub
}

// PublicKey returns the underlying key.
func (k ECKey) PublicKey() *ecdsa.PublicKey { return k.pub }

// RSAKey verifies RSA signatures with a public key (n, e).
type RSAKey struct {
	pub *rsa.PublicKey
}

// Family returns [FamilyRSA].
func (RSAKey) Family() Family { return FamilyRSA }
func (k RSAKey) material() any {
	if k.pub == nil {
		return nil
	}
	return k.pub
}

// PublicKey returns the underlying key.
func (k RSAKey) PublicKey() *rsa.PublicKey { return k.pub }

// NewSharedSecretKey returns key material for the shared-secret family.
// An empty secret is rejected with [sserr.CodeAuthenticationKeyInvalid].
func NewSharedSecretKey(secret Secret) (SharedSecretKey, error) {
	if !secret.IsSet() {
		return SharedSecretKey{}, sserr.New(sserr.CodeAuthenticationKeyInvalid, "auth: shared secret is not configured")
	}
	return SharedSecretKey{secret: []byte(secret.Value())}, nil
}

// BuildKey turns a key-set entry into key material for alg. It is the
// single place where the entry's key type is checked against the
// algorithm's family, and it never converts between types.
//
// Entries that are the wrong type, miss a component, carry a conflicting
// alg, crv or use, or encode an invalid key fail with
// [sserr.CodeAuthenticationKeyInvalid]. Algorithms outside the EC and RSA
// families fail with [sserr.CodeAuthenticationAlgorithm].
func BuildKey(entry keyset.Key, alg Algorithm) (VerificationKey, error) {
	switch alg.Family() {
	case FamilyEllipticCurve, FamilyRSA:
	default:
		return nil, sserr.Newf(sserr.CodeAuthenticationAlgorithm,
			"auth: %s keys are not drawn from the key set", alg.Family())
	}

	if entry.Algorithm != "" && entry.Algorithm != alg.Name() {
		return nil, invalidKey(entry, "entry alg %q does not match token alg %q", entry.Algorithm, alg.Name())
	}
	if entry.Use != "" && entry.Use != "sig" {
		return nil, invalidKey(entry, "entry use %q is not sig", entry.Use)
	}

	switch alg.Family() {
	case FamilyEllipticCurve:
		return buildECKey(entry, alg)
	case FamilyRSA:
		return buildRSAKey(entry)
	default:
		return nil, sserr.New(sserr.CodeAuthenticationAlgorithm, "auth: unsupported algorithm family")
	}
}

func buildECKey(entry keyset.Key, alg Algorithm) (VerificationKey, error) {
	if entry.Type != keyset.KeyTypeEC {
		return nil, invalidKey(entry, "key type %q cannot verify %s", entry.Type, alg.Name())
	}
	if entry.X == "" || entry.Y == "" {
		return nil, invalidKey(entry, "EC key is missing x or y")
	}
	if entry.Curve != "" && entry.Curve != alg.curve {
		return nil, invalidKey(entry, "curve %q does not match %s", entry.Curve, alg.Name())
	}

	var (
		curve   elliptic.Curve
		checker ecdh.Curve
	)
	switch alg.curve {
	case "P-256":
		curve, checker = elliptic.P256(), ecdh.P256()
	case "P-384":
		curve, checker = elliptic.P384(), ecdh.P384()
	case "P-521":
		curve, checker = elliptic.P521(), ecdh.P521()
	default:
		return nil, invalidKey(entry, "no curve for %s", alg.Name())
	}

	size := (curve.Params().BitSize + 7) / 8
	x, err := decodeFixed(entry.X, size)
	if err != nil {
		return nil, invalidKey(entry, "x: %v", err)
	}
	y, err := decodeFixed(entry.Y, size)
	if err != nil {
		return nil, invalidKey(entry, "y: %v", err)
	}

	// crypto/ecdh rejects points that are not on the curve.
	point := make([]byte, 0, 1+2*size)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)
	if _, err := checker.NewPublicKey(point); err != nil {
		return nil, invalidKey(entry, "point is not on %s", alg.curve)
	}

	return ECKey{pub: &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}}, nil
}

func buildRSAKey(entry keyset.Key) (VerificationKey, error) {
	if entry.Type != keyset.KeyTypeRSA {
		return nil, invalidKey(entry, "key type %q cannot verify RSA signatures", entry.Type)
	}
	if entry.N == "" || entry.E == "" {
		return nil, invalidKey(entry, "RSA key is missing n or e")
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(entry.N)
	if err != nil {
		return nil, invalidKey(entry, "n is not base64url")
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(entry.E)
	if err != nil {
		return nil, invalidKey(entry, "e is not base64url")
	}

	n := new(big.Int).SetBytes(nBytes)
	if n.BitLen() < minRSAModulusBits {
		return nil, invalidKey(entry, "modulus is %d bits, want at least %d", n.BitLen(), minRSAModulusBits)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 || e.Bit(0) == 0 {
		return nil, invalidKey(entry, "exponent is not an odd integer in range")
	}

	return RSAKey{pub: &rsa.PublicKey{N: n, E: int(e.Int64())}}, nil
}

// decodeFixed decodes a base64url coordinate and left-pads it to size
// bytes. Longer values are rejected.
func decodeFixed(s string, size int) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) > size {
		return nil, errCoordinateTooLong
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out, nil
}

var errCoordinateTooLong = sserr.New(sserr.CodeAuthenticationKeyInvalid, "coordinate is longer than the curve size")

func invalidKey(entry keyset.Key, format string, args ...any) *sserr.Error {
	return sserr.Newf(sserr.CodeAuthenticationKeyInvalid, "auth: unusable key: "+format, args...).
		WithDetail("kid", entry.ID)
}
