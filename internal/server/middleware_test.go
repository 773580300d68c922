package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authgate/internal/testutil"
)

func TestCorrelationMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	handler := correlationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"minted", "", false},
		{"reused", "caller-123", true},
		{"oversized", strings.Repeat("x", maxCorrelationIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(CorrelationIDHeader, tt.inbound)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			echoed := rr.Header().Get(CorrelationIDHeader)
			assert.Equal(t, seen, echoed)
			if tt.reuse {
				assert.Equal(t, tt.inbound, echoed)
				return
			}
			_, err := xid.FromString(echoed)
			assert.NoError(t, err, "minted id %q is an xid", echoed)
		})
	}
}

func TestCorrelationID_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, CorrelationID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestAccessLogMiddleware(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	handler := correlationMiddleware(accessLogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/brew", nil)
	req.Header.Set("Authorization", "Bearer secret-token-value")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.Entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "http request", e["msg"])
	assert.Equal(t, "POST", e["method"])
	assert.Equal(t, "/brew", e["path"])
	assert.EqualValues(t, http.StatusTeapot, e["status"])
	assert.EqualValues(t, len("short and stout"), e["bytes"])
	assert.NotEmpty(t, e["correlation_id"])
	assert.NotContains(t, logs.String(), "secret-token-value")
}

func TestAccessLogMiddleware_ImplicitOK(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	handler := accessLogMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entries := logs.Entries(t)
	require.Len(t, entries, 1)
	assert.EqualValues(t, http.StatusOK, entries[0]["status"])
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	handler := recoverMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))

	rr := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal"}`, rr.Body.String())
	assert.Contains(t, logs.String(), "http handler panicked")
}

func TestRecoverMiddleware_AbortHandlerPropagates(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func testLogger() *slog.Logger {
	logger, _ := testutil.NewLogger()
	return logger
}
