// Package keyset fetches, parses and caches the JSON Web Key Set that an
// identity provider publishes for asymmetric token verification.
//
// A [KeySet] is immutable once parsed. The [Cache] holds the current
// snapshot and swaps it wholesale on refresh; it never edits a set in
// place. Keys are kept exactly as published: deciding whether an entry is
// usable for a given algorithm is the verifier's job, not this package's.
package keyset

import (
	"encoding/json"
	"slices"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// KeyType is the JWK "kty" member.
type KeyType string

const (
	// KeyTypeEC identifies an elliptic-curve public key (x, y).
	KeyTypeEC KeyType = "EC"

	// KeyTypeRSA identifies an RSA public key (n, e).
	KeyTypeRSA KeyType = "RSA"
)

// Key is one entry of a published key set. Numeric components stay in
// their base64url form until a verifier builds key material from them.
type Key struct {
	ID        string  `json:"kid,omitempty"`
	Type      KeyType `json:"kty"`
	Algorithm string  `json:"alg,omitempty"`
	Use       string  `json:"use,omitempty"`
	Curve     string  `json:"crv,omitempty"`
	X         string  `json:"x,omitempty"`
	Y         string  `json:"y,omitempty"`
	N         string  `json:"n,omitempty"`
	E         string  `json:"e,omitempty"`
}

// KeySet is an ordered, read-only collection of keys.
type KeySet struct {
	keys []Key
}

type document struct {
	Keys []Key `json:"keys"`
}

// New returns a KeySet holding a copy of keys.
func New(keys ...Key) *KeySet {
	return &KeySet{keys: slices.Clone(keys)}
}

// Parse decodes a JWKS document of the form {"keys": [...]}. A document
// without a "keys" array is rejected; an empty array is a valid, empty set.
func Parse(data []byte) (*KeySet, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableKeySet, "keyset: document is not valid JSON")
	}
	if doc.Keys == nil {
		return nil, sserr.New(sserr.CodeUnavailableKeySet, "keyset: document has no keys array")
	}
	return &KeySet{keys: doc.Keys}, nil
}

// Len returns the number of entries.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns a copy of the entries in publication order.
func (s *KeySet) Keys() []Key {
	if s == nil {
		return nil
	}
	return slices.Clone(s.keys)
}

// Lookup returns the first entry whose key id equals kid. An empty kid
// never matches.
func (s *KeySet) Lookup(kid string) (Key, bool) {
	if s == nil || kid == "" {
		return Key{}, false
	}
	for _, k := range s.keys {
		if k.ID == kid {
			return k, true
		}
	}
	return Key{}, false
}

// KeyIDs returns the non-empty key ids in publication order.
func (s *KeySet) KeyIDs() []string {
	ids := make([]string, 0, s.Len())
	for _, k := range s.Keys() {
		if k.ID != "" {
			ids = append(ids, k.ID)
		}
	}
	return ids
}

// MarshalJSON encodes the set as a JWKS document.
func (s *KeySet) MarshalJSON() ([]byte, error) {
	keys := s.Keys()
	if keys == nil {
		keys = []Key{}
	}
	return json.Marshal(document{Keys: keys})
}
