package auth

// Secret holds the shared signing secret. It prints, formats and
// marshals as a placeholder; only [Secret.Value] returns the raw value.
type Secret string

const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw secret. Call it only where the bytes are handed
// to a cryptographic function.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder so the secret never
// reaches JSON, YAML or slog output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// IsSet reports whether a non-empty secret is configured.
func (s Secret) IsSet() bool { return s != "" }
