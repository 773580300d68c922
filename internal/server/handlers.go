package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/authgate/pkg/auth"
	"github.com/StricklySoft/authgate/pkg/clients/postgres"
	"github.com/StricklySoft/authgate/pkg/lifecycle"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// restPrefix is stripped before a request is proxied to the backend.
const restPrefix = "/v1/rest"

// currentSessionSQL reads back the identity the database sees inside a
// session.
const currentSessionSQL = "SELECT current_user, coalesce(current_setting('request.jwt.claim.sub', true), '')"

// SessionRunner runs a callback inside a role-scoped database
// transaction. *postgres.Client implements it.
type SessionRunner interface {
	WithSession(ctx context.Context, s postgres.Session, fn func(ctx context.Context, tx pgx.Tx) error) error
}

var _ SessionRunner = (*postgres.Client)(nil)

type errorBody struct {
	Error string     `json:"error"`
	Code  sserr.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status. Internal messages are logged,
// never returned.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ssErr := sserr.FromError(err)
	status := ssErr.HTTPStatus()
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path,
		"code", string(ssErr.Code),
		"error", err,
		"correlation_id", CorrelationID(r.Context()),
	)
	writeJSON(w, status, errorBody{Error: strings.ToLower(http.StatusText(status)), Code: ssErr.Code})
}

// healthHandler reports the lifecycle state and collaborator checks. An
// unavailable report answers 503 so orchestrators stop routing traffic.
func healthHandler(svc *lifecycle.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := svc.Report(r.Context())
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// meHandler returns the authenticated caller.
func meHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.MustIdentityFromContext(r.Context()))
}

type whoamiResponse struct {
	Anonymous bool                  `json:"anonymous"`
	Identity  *auth.IdentityContext `json:"identity,omitempty"`
}

// whoamiHandler serves callers with and without a token.
func whoamiHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, whoamiResponse{Anonymous: true})
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{Identity: identity})
}

type dbIdentity struct {
	Role    string `json:"role"`
	Subject string `json:"sub"`
}

// sessionFor maps a verified identity to its database session.
func sessionFor(identity *auth.IdentityContext) postgres.Session {
	return postgres.Session{
		Role:    identity.Role(),
		Subject: identity.ID(),
		Claims: map[string]any{
			"sub":   identity.ID(),
			"email": identity.Email(),
			"role":  identity.Role(),
		},
	}
}

// dbHandler reports the role and subject Postgres sees for the caller.
func dbHandler(db SessionRunner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := auth.MustIdentityFromContext(r.Context())

		var out dbIdentity
		err := db.WithSession(r.Context(), sessionFor(identity), func(ctx context.Context, tx pgx.Tx) error {
			return tx.QueryRow(ctx, currentSessionSQL).Scan(&out.Role, &out.Subject)
		})
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// apiKeyHeader carries the backend project key.
const apiKeyHeader = "apikey"

// newRESTProxy forwards /v1/rest/* to backend as the caller. The caller's
// own token and apiKey are attached by [auth.ForwardingRoundTripper].
func newRESTProxy(backend *url.URL, apiKey auth.Secret, transport http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, restPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(backend)
			pr.Out.Header.Set(CorrelationIDHeader, CorrelationID(pr.In.Context()))
			// Only the configured key may reach the backend.
			pr.Out.Header.Del(apiKeyHeader)
		},
		Transport: auth.NewForwardingRoundTripper(transport, map[string]string{
			apiKeyHeader: apiKey.Value(),
		}),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			if sserr.IsAuthentication(err) {
				status = http.StatusUnauthorized
			}
			logger.ErrorContext(r.Context(), "rest proxy failed",
				"path", r.URL.Path,
				"status", status,
				"error", err,
				"correlation_id", CorrelationID(r.Context()),
			)
			writeJSON(w, status, errorBody{Error: strings.ToLower(http.StatusText(status))})
		},
	}
}
