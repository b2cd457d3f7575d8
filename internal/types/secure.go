package types

import "log/slog"

const redacted = "[redacted]"

// SecretString holds credentials loaded from the environment (Redis password,
// weather API key, database URL). It never prints or serializes its value.
type SecretString string

func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalJSON keeps secrets out of config dumps.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// LogValue keeps secrets out of structured logs.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Unmask returns the raw value for the client that needs it.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
