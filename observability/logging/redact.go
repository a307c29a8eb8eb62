package logging

import (
	"log/slog"
	"strings"
)

// Redacted replaces secret values in log output.
const Redacted = "[REDACTED]"

// Secret returns an attr that masks a non-empty value. Boot logging uses it
// to show whether a credential is configured without echoing it.
func Secret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, "")
	}
	return slog.String(key, Redacted)
}
