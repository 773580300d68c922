package auth

import (
	"context"
	"log/slog"
	"net/http"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// rejectionBody is the only response body a rejected request ever sees.
const rejectionBody = `{"error":"unauthorized"}` + "\n"

// HTTPMiddleware requires a valid bearer token on every request. On
// success the [IdentityContext] is attached to the request context; on
// any failure the request gets a 401 with a fixed body and the handler is
// not called.
//
//	r := mux.NewRouter()
//	api := r.PathPrefix("/v1").Subrouter()
//	api.Use(auth.HTTPMiddleware(authenticator, logger))
func HTTPMiddleware(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return newHTTPAuth(validator, logger, true)
}

// OptionalHTTPMiddleware attaches an identity when the request carries a
// valid bearer token and lets requests without an Authorization header
// through anonymously. A header that is present but invalid is still
// rejected.
func OptionalHTTPMiddleware(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return newHTTPAuth(validator, logger, false)
}

func newHTTPAuth(validator TokenValidator, logger *slog.Logger, required bool) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAuthorization)
			if raw == "" && !required {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := ExtractBearerToken(raw)
			if !ok {
				reject(w, r, logger, errMissingCredentials, 0)
				return
			}

			identity, err := validator.Authenticate(r.Context(), token)
			if err != nil {
				reject(w, r, logger, err, len(token))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// reject logs the precise reason and writes the uniform 401.
func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, tokenLength int) {
	logRejection(r.Context(), logger, err, tokenLength,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	w.Header().Set("WWW-Authenticate", bearerScheme)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(rejectionBody))
}

func logRejection(ctx context.Context, logger *slog.Logger, err error, tokenLength int, attrs ...slog.Attr) {
	reason := ReasonOf(err)
	level := slog.LevelWarn
	switch reason {
	case ReasonUnauthorized:
		level = slog.LevelInfo
	case ReasonUpstreamKeyFetch, ReasonInternal:
		level = slog.LevelError
	}

	attrs = append(attrs,
		slog.String("reason", reason.String()),
		slog.String("code", string(sserr.GetCode(err))),
		slog.Int("token_length", tokenLength),
		slog.String("error", err.Error()),
	)
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	logger.LogAttrs(ctx, level, "request rejected", attrs...)
}
