package tracing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// secretKeyPatterns drives redaction: any field whose name contains one
// of these substrings, case-insensitive, is replaced before digesting.
var secretKeyPatterns = []string{
	"api_key",
	"apikey",
	"access_key",
	"secret",
	"token",
	"authorization",
	"password",
	"private_key",
	"client_secret",
}

// Redacted replaces secret values in digests and sanitized payloads
const Redacted = "[REDACTED]"

// DigestLimits bounds the size of digest content
type DigestLimits struct {
	// MaxString is the maximum string length kept verbatim, in runes
	MaxString int
	// MaxBytes is the largest byte payload kept inline; larger ones
	// collapse to a sha256 marker
	MaxBytes int
}

// DefaultLimits returns the standard digest bounds
func DefaultLimits() DigestLimits {
	return DigestLimits{MaxString: 256, MaxBytes: 4096}
}

// IsSecretKey reports whether a field name matches the redaction list
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range secretKeyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of value safe to digest: secret keyed
// fields redacted, long strings truncated, oversized byte payloads
// replaced by their sha256.
func Sanitize(value interface{}, limits DigestLimits) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			if IsSecretKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Sanitize(inner, limits)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = Sanitize(inner, limits)
		}
		return out
	case string:
		return truncate(v, limits.MaxString)
	case []byte:
		if limits.MaxBytes > 0 && len(v) > limits.MaxBytes {
			sum := sha256.Sum256(v)
			return "sha256:" + hex.EncodeToString(sum[:])
		}
		return v
	default:
		return v
	}
}

// Digest renders a sanitized JSON representation of value. Digests are
// deterministic for a given value: map keys serialize in sorted order.
func Digest(value interface{}, limits DigestLimits) string {
	sanitized := Sanitize(value, limits)
	data, err := json.Marshal(sanitized)
	if err != nil {
		return truncate(fmt.Sprintf("%v", sanitized), limits.MaxString)
	}
	return string(data)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
