package errors

// Code is a stable machine-readable error code of the form CATEGORY_NNN.
type Code string

const (
	categoryValidation     = "VAL"
	categoryAuthentication = "AUTH"
	categoryAuthorization  = "AUTHZ"
	categoryNotFound       = "NF"
	categoryConflict       = "CONF"
	categoryInternal       = "INT"
	categoryUnavailable    = "UNAVAIL"
	categoryTimeout        = "TIMEOUT"
)

// Validation errors (VAL_xxx), HTTP 400.
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationRange indicates a value is outside its accepted range.
	CodeValidationRange Code = "VAL_003"
)

// Authentication errors (AUTH_xxx), HTTP 401.
//
// AUTH_002, AUTH_003, AUTH_005, AUTH_006 and AUTH_009 to AUTH_011 all
// belong to the invalid-token family; the remaining codes each name one
// rejection reason of their own.
const (
	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token's exp is not after now.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token failed a check that
	// has no more specific code (missing claims, oversized token).
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationMissing indicates the Authorization header is
	// absent or is not a bearer credential.
	CodeAuthenticationMissing Code = "AUTH_004"

	// CodeAuthenticationMalformed indicates the token header could not be
	// decoded.
	CodeAuthenticationMalformed Code = "AUTH_005"

	// CodeAuthenticationAlgorithm indicates the token names an algorithm
	// outside the supported families, including "none".
	CodeAuthenticationAlgorithm Code = "AUTH_006"

	// CodeAuthenticationNoKey indicates the token's key id is absent from
	// the key set even after a forced refresh.
	CodeAuthenticationNoKey Code = "AUTH_007"

	// CodeAuthenticationKeyInvalid indicates a key-set entry is unusable
	// for the token's algorithm.
	CodeAuthenticationKeyInvalid Code = "AUTH_008"

	// CodeAuthenticationAudience indicates an audience mismatch.
	CodeAuthenticationAudience Code = "AUTH_009"

	// CodeAuthenticationIssuer indicates an issuer mismatch.
	CodeAuthenticationIssuer Code = "AUTH_010"

	// CodeAuthenticationSignature indicates the signature did not verify.
	CodeAuthenticationSignature Code = "AUTH_011"
)

// Authorization errors (AUTHZ_xxx), HTTP 403.
const (
	// CodeAuthorization indicates a verified identity may not perform the
	// operation, such as assuming a database role outside the allow list.
	CodeAuthorization Code = "AUTHZ_001"
)

// Not found and conflict errors.
const (
	// CodeNotFound indicates a requested object does not exist.
	CodeNotFound Code = "NF_001"

	// CodeConflict indicates an operation conflicts with current state,
	// such as an invalid lifecycle transition.
	CodeConflict Code = "CONF_001"
)

// Internal errors (INT_xxx), HTTP 500.
const (
	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database or cache operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates invalid configuration.
	CodeInternalConfiguration Code = "INT_003"
)

// Unavailable errors (UNAVAIL_xxx), HTTP 503.
const (
	// CodeUnavailable indicates the service is not ready.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependency could not be reached.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeUnavailableKeySet indicates the key-set endpoint could not be
	// fetched or its document could not be parsed.
	CodeUnavailableKeySet Code = "UNAVAIL_004"
)

// Timeout errors (TIMEOUT_xxx), HTTP 504.
const (
	// CodeTimeout indicates a general timeout.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database or cache call timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to a dependency timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore (e.g., "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
