package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// plainKeys are logged verbatim by MaskField. Accounts and amounts are public
// ledger data; credentials are not.
var plainKeys = map[string]struct{}{
	"service":    {},
	"env":        {},
	"error":      {},
	"reason":     {},
	"op":         {},
	"request_id": {},
	"account":    {},
	"type":       {},
	"feed":       {},
}

func isPlain(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// maskCredential keeps the auth scheme of a header value so operators can
// tell a malformed header from a rejected token.
func maskCredential(value string) string {
	scheme, _, found := strings.Cut(strings.TrimSpace(value), " ")
	if found && scheme != "" {
		return scheme + " " + RedactedValue
	}
	return RedactedValue
}

// MaskField returns value under key, masked unless the key is known to be
// safe. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, maskCredential(value))
}
