package keyset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const sampleDocument = `{
  "keys": [
    {"kid": "k1", "kty": "EC", "alg": "ES256", "use": "sig", "crv": "P-256", "x": "eHg", "y": "eXk"},
    {"kid": "k2", "kty": "RSA", "alg": "RS256", "n": "bm4", "e": "AQAB"},
    {"kty": "OKP", "crv": "Ed25519", "x": "b2twa2V5"}
  ]
}`

// ---------------------------------------------------------------------------
// Parse and KeySet
// ---------------------------------------------------------------------------

func TestParse_Document(t *testing.T) {
	t.Parallel()

	set, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	k1, ok := set.Lookup("k1")
	require.True(t, ok)
	assert.Equal(t, KeyTypeEC, k1.Type)
	assert.Equal(t, "P-256", k1.Curve)
	assert.Equal(t, "eHg", k1.X)

	k2, ok := set.Lookup("k2")
	require.True(t, ok)
	assert.Equal(t, KeyTypeRSA, k2.Type)
	assert.Equal(t, "AQAB", k2.E)

	assert.Equal(t, KeyType("OKP"), set.Keys()[2].Type, "unknown key types are preserved")
	assert.Equal(t, []string{"k1", "k2"}, set.KeyIDs())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not json":        `<html>`,
		"missing keys":    `{"other": []}`,
		"keys not array":  `{"keys": {"kid": "k1"}}`,
		"truncated":       `{"keys": [`,
		"null keys value": `{"keys": null}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableKeySet))
		})
	}
}

func TestParse_EmptyKeysIsValid(t *testing.T) {
	t.Parallel()

	set, err := Parse([]byte(`{"keys": []}`))
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	_, ok := set.Lookup("k1")
	assert.False(t, ok)
}

func TestKeySet_LookupEmptyKidNeverMatches(t *testing.T) {
	t.Parallel()

	set := New(Key{Type: KeyTypeRSA, N: "n", E: "e"})
	_, ok := set.Lookup("")
	assert.False(t, ok)

	var nilSet *KeySet
	_, ok = nilSet.Lookup("k1")
	assert.False(t, ok)
	assert.Zero(t, nilSet.Len())
}

func TestKeySet_IsImmutable(t *testing.T) {
	t.Parallel()

	input := []Key{{ID: "k1", Type: KeyTypeEC}}
	set := New(input...)
	input[0].ID = "mutated"

	keys := set.Keys()
	keys[0].ID = "also-mutated"

	got, ok := set.Lookup("k1")
	require.True(t, ok)
	assert.Equal(t, "k1", got.ID)
}

func TestKeySet_MarshalJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(New(Key{ID: "k1", Type: KeyTypeRSA, N: "n", E: "AQAB"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[{"kid":"k1","kty":"RSA","n":"n","e":"AQAB"}]}`, string(data))

	data, err = json.Marshal(New())
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(data))
}

// ---------------------------------------------------------------------------
// HTTPSource
// ---------------------------------------------------------------------------

func TestHTTPSource_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleDocument))
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(srv.URL)
	assert.Equal(t, srv.URL, src.URL())

	set, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}

func TestHTTPSource_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		opts    []HTTPSourceOption
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.NotFound(w, nil)
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
		{
			name: "oversized body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(sampleDocument))
			},
			opts: []HTTPSourceOption{WithMaxDocumentBytes(16)},
		},
		{
			name: "slow upstream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			opts: []HTTPSourceOption{WithFetchTimeout(50 * time.Millisecond)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := NewHTTPSource(srv.URL, tt.opts...).Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableKeySet), "got %v", err)
		})
	}
}

func TestHTTPSource_CustomClientAndCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keys": []}`))
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(srv.URL, WithHTTPClient(srv.Client()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableKeySet))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPSource_UnreachableEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSource(url).Fetch(context.Background())
	require.Error(t, err)
	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, sserr.CodeUnavailableKeySet, e.Code)
	assert.True(t, strings.HasPrefix(e.Details["url"].(string), "http://"))
}

func TestNewHTTPClient_HasFiniteTimeouts(t *testing.T) {
	t.Parallel()

	c := NewHTTPClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, tr.ResponseHeaderTimeout)
	assert.NotZero(t, tr.TLSHandshakeTimeout)
}
