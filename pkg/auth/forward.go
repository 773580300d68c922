package auth

import (
	"net/http"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// ForwardingRoundTripper sends the caller's own bearer token to a
// downstream service so that the service (typically a row-level-security
// REST backend) authorizes the call as that caller. Static headers, such
// as a project API key, are added to every request.
//
// A request whose context carries no [IdentityContext] fails instead of
// being sent anonymously.
type ForwardingRoundTripper struct {
	wrapped http.RoundTripper
	static  map[string]string
}

// NewForwardingRoundTripper wraps transport, or http.DefaultTransport when
// it is nil.
func NewForwardingRoundTripper(transport http.RoundTripper, staticHeaders map[string]string) *ForwardingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	static := make(map[string]string, len(staticHeaders))
	for k, v := range staticHeaders {
		if v != "" {
			static[http.CanonicalHeaderKey(k)] = v
		}
	}
	return &ForwardingRoundTripper{wrapped: transport, static: static}
}

// RoundTrip implements http.RoundTripper. The original request is not
// modified.
func (t *ForwardingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		return nil, sserr.Unauthorized("auth: no identity to forward")
	}

	clone := r.Clone(r.Context())
	for k, v := range t.static {
		clone.Header.Set(k, v)
	}
	clone.Header.Set(HeaderAuthorization, bearerHeaderValue(identity.Token()))
	return t.wrapped.RoundTrip(clone)
}
