package fixtures

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/StricklySoft/authgate/pkg/keyset"
)

// JWKSServer serves a replaceable key set and counts requests.
type JWKSServer struct {
	*httptest.Server

	hits atomic.Int64

	mu        sync.Mutex
	set       *keyset.KeySet
	status    int
	pending   *keyset.KeySet
	pendingAt int64
}

// NewJWKSServer starts a server publishing keys. It is closed when the
// test ends.
func NewJWKSServer(t testing.TB, keys ...keyset.Key) *JWKSServer {
	t.Helper()
	s := &JWKSServer{set: keyset.New(keys...), status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *JWKSServer) serve(w http.ResponseWriter, _ *http.Request) {
	n := s.hits.Add(1)

	s.mu.Lock()
	if s.pending != nil && n >= s.pendingAt {
		s.set, s.pending = s.pending, nil
	}
	set, status := s.set, s.status
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	data, err := set.MarshalJSON()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// Publish replaces the served key set.
func (s *JWKSServer) Publish(keys ...keyset.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = keyset.New(keys...)
	s.status = http.StatusOK
}

// PublishAt replaces the served key set starting with request number hit.
func (s *JWKSServer) PublishAt(hit int64, keys ...keyset.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = keyset.New(keys...)
	s.pendingAt = hit
}

// Fail makes every later request answer with status.
func (s *JWKSServer) Fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Hits returns the number of requests served so far.
func (s *JWKSServer) Hits() int64 { return s.hits.Load() }
