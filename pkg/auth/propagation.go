package auth

import (
	"strings"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const (
	// HeaderAuthorization is the HTTP header carrying the bearer token.
	HeaderAuthorization = "Authorization"

	// metadataAuthorization is the gRPC metadata key; metadata keys are
	// lower-case.
	metadataAuthorization = "authorization"

	bearerScheme = "Bearer"
)

// errMissingCredentials is reported when a request carries no usable
// Authorization header.
var errMissingCredentials = sserr.Unauthorized("auth: missing or malformed authorization header")

// ExtractBearerToken returns the credential from an Authorization header
// value of the form "Bearer <token>". The scheme is matched
// case-insensitively. It returns false for an empty value, another scheme,
// an empty token, or a token containing whitespace.
func ExtractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimLeft(token, " ")
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}

// bearerHeaderValue formats token for an outgoing Authorization header.
func bearerHeaderValue(token string) string {
	return bearerScheme + " " + token
}
