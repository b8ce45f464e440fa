package tracing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

// TestIsSecretKey tests the redaction key patterns
func TestIsSecretKey(t *testing.T) {
	secret := []string{
		"api_key", "APIKEY", "openai_api_key", "access_key_id",
		"client_secret", "SECRET_VALUE", "auth_token", "Authorization",
		"db_password", "private_key_pem", "refresh_token",
	}
	for _, key := range secret {
		if !IsSecretKey(key) {
			t.Errorf("Expected %q to be treated as secret", key)
		}
	}

	plain := []string{"query", "text", "model", "temperature", "results", "keyboard"}
	for _, key := range plain {
		if IsSecretKey(key) {
			t.Errorf("Expected %q to be plain", key)
		}
	}
}

// TestSanitize_Redaction tests secret scrubbing through nested shapes
func TestSanitize_Redaction(t *testing.T) {
	in := map[string]interface{}{
		"query":   "what is RAG",
		"api_key": "sk-live-123",
		"nested": map[string]interface{}{
			"password": "hunter2",
			"model":    "gpt-x",
		},
		"list": []interface{}{
			map[string]interface{}{"token": "abc", "text": "keep"},
		},
	}

	out := Sanitize(in, DefaultLimits()).(map[string]interface{})

	if out["api_key"] != Redacted {
		t.Errorf("Expected api_key redacted, got %v", out["api_key"])
	}
	if out["query"] != "what is RAG" {
		t.Errorf("Expected query untouched, got %v", out["query"])
	}
	nested := out["nested"].(map[string]interface{})
	if nested["password"] != Redacted || nested["model"] != "gpt-x" {
		t.Errorf("Unexpected nested sanitization: %v", nested)
	}
	item := out["list"].([]interface{})[0].(map[string]interface{})
	if item["token"] != Redacted || item["text"] != "keep" {
		t.Errorf("Unexpected list sanitization: %v", item)
	}

	// Input must not be mutated
	if in["api_key"] != "sk-live-123" {
		t.Errorf("Sanitize mutated its input")
	}
}

// TestSanitize_Truncation tests long string truncation in runes
func TestSanitize_Truncation(t *testing.T) {
	limits := DefaultLimits()

	long := strings.Repeat("x", 300)
	got := Sanitize(long, limits).(string)
	if len([]rune(got)) != limits.MaxString+3 {
		t.Errorf("Expected %d runes plus ellipsis, got %d", limits.MaxString, len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Expected ellipsis suffix, got tail %q", got[len(got)-5:])
	}

	exact := strings.Repeat("y", limits.MaxString)
	if Sanitize(exact, limits).(string) != exact {
		t.Errorf("Expected string at the limit to pass untouched")
	}

	// Truncation counts runes, not bytes
	wide := strings.Repeat("é", 300)
	gotWide := Sanitize(wide, limits).(string)
	if len([]rune(gotWide)) != limits.MaxString+3 {
		t.Errorf("Expected rune-based truncation, got %d runes", len([]rune(gotWide)))
	}
}

// TestSanitize_LargeBytes tests the sha256 collapse for oversized
// byte payloads.
func TestSanitize_LargeBytes(t *testing.T) {
	limits := DefaultLimits()

	big := make([]byte, limits.MaxBytes+1)
	for i := range big {
		big[i] = byte(i % 251)
	}
	got := Sanitize(big, limits).(string)

	sum := sha256.Sum256(big)
	want := "sha256:" + hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	small := []byte("inline")
	if string(Sanitize(small, limits).([]byte)) != "inline" {
		t.Errorf("Expected small payload kept inline")
	}
}

// TestDigest tests determinism and that secrets never reach the digest
func TestDigest(t *testing.T) {
	in := map[string]interface{}{
		"b_field": 2.0,
		"a_field": 1.0,
		"api_key": "sk-live-123",
	}

	first := Digest(in, DefaultLimits())
	second := Digest(in, DefaultLimits())
	if first != second {
		t.Errorf("Expected deterministic digest, got %s vs %s", first, second)
	}
	if strings.Contains(first, "sk-live-123") {
		t.Errorf("Secret leaked into digest: %s", first)
	}
	if !strings.Contains(first, Redacted) {
		t.Errorf("Expected redaction marker in digest: %s", first)
	}
	// encoding/json emits map keys sorted
	if strings.Index(first, "a_field") > strings.Index(first, "b_field") {
		t.Errorf("Expected sorted key order in digest: %s", first)
	}
}

// TestDefaultLimits tests the standard bounds
func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	if limits.MaxString != 256 {
		t.Errorf("Expected MaxString 256, got %d", limits.MaxString)
	}
	if limits.MaxBytes != 4096 {
		t.Errorf("Expected MaxBytes 4096, got %d", limits.MaxBytes)
	}
}
