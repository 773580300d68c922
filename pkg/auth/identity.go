package auth

import (
	"context"
	"encoding/json"
	"log/slog"
)

// IdentityContext is the authenticated caller handed to downstream code.
// It can only be built from verified [Claims], so it is never partially
// populated from an unverified token. It lives for one request.
type IdentityContext struct {
	id    string
	email string
	role  string
	token string
}

// newIdentityContext builds the identity from claims that [Verify]
// returned, together with the raw token they came from.
func newIdentityContext(claims *Claims, token string) *IdentityContext {
	return &IdentityContext{
		id:    claims.Subject,
		email: claims.Email,
		role:  claims.Role,
		token: token,
	}
}

// ID returns the caller id (the token subject).
func (i *IdentityContext) ID() string { return i.id }

// Email returns the caller's email, or "" when the token had none.
func (i *IdentityContext) Email() string { return i.email }

// Role returns the provider role claim, or "" when absent.
func (i *IdentityContext) Role() string { return i.role }

// Token returns the original bearer token, for forwarding to a data
// backend that enforces row-level security. Never log it.
func (i *IdentityContext) Token() string { return i.token }

// TokenLength returns len(Token()), the only token property that may be
// logged.
func (i *IdentityContext) TokenLength() int { return len(i.token) }

// String omits the token.
func (i *IdentityContext) String() string {
	return "IdentityContext{id=" + i.id + ", role=" + i.role + "}"
}

// LogValue keeps the token and email out of structured logs.
func (i *IdentityContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", i.id),
		slog.String("role", i.role),
		slog.Int("token_length", len(i.token)),
	)
}

// MarshalJSON encodes the public fields only; the token is never
// serialised.
func (i *IdentityContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role,omitempty"`
	}{i.id, i.email, i.role})
}

// TokenValidator authenticates a raw bearer token. [Authenticator]
// implements it; transport adapters depend on this interface so tests can
// substitute a stub.
type TokenValidator interface {
	Authenticate(ctx context.Context, token string) (*IdentityContext, error)
}
