package types

// redactedPlaceholder is what SecretString renders as anywhere a value could
// leak into logs or serialized output.
const redactedPlaceholder = "[REDACTED]"

var redactedJSON = []byte(`"` + redactedPlaceholder + `"`)

// SecretString wraps sensitive configuration values (API keys, database
// URLs) so that accidental formatting or JSON serialization never exposes
// the raw value.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret. Usage should be
// limited to constructing HTTP Authorization headers and connection strings.
func (s SecretString) Unmask() string {
	return string(s)
}
