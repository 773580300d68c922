package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const identityKey contextKey = iota

// ContextWithIdentity attaches identity to ctx. The HTTP middleware and
// gRPC interceptors call it after a successful [Authenticator.Authenticate].
func ContextWithIdentity(ctx context.Context, identity *IdentityContext) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity attached to ctx. It never
// returns a nil identity with true.
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    // anonymous request (optional-auth routes only)
//	}
func IdentityFromContext(ctx context.Context) (*IdentityContext, bool) {
	identity, ok := ctx.Value(identityKey).(*IdentityContext)
	return identity, ok && identity != nil
}

// MustIdentityFromContext is IdentityFromContext for handlers mounted
// behind the required-auth middleware. It panics when no identity is set.
func MustIdentityFromContext(ctx context.Context) *IdentityContext {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure authentication middleware is configured")
	}
	return identity
}

// TraceIDFromContext returns the active OpenTelemetry trace id, if any.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
