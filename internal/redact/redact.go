package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens). Keep it broad: tokens show up
	// in logs via downstream libraries and HTTP error messages.
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|resend[_-]?api[_-]?key|access_token|assertion)\b("?)\s*[:=]\s*"?[^\s"'&,}]+`)

	// Signed assertions and bearer credentials are JWT shaped.
	jwtRe = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`)

	privateKeyRe = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
//
// It is safe to call on any message, including user-provided inputs and upstream
// error strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = privateKeyRe.ReplaceAllString(out, "<redacted_private_key>")
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = jwtRe.ReplaceAllString(out, "<redacted_jwt>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}

// Truncate redacts s and caps it at max bytes, marking the cut with "...".
// Newlines are flattened so the result fits a single log line.
func Truncate(b []byte, max int) string {
	if len(b) == 0 {
		return ""
	}
	cut := b
	if max > 0 && len(cut) > max {
		cut = cut[:max]
	}
	s := Secrets(string(cut))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if max > 0 && len(b) > max {
		return s + "..."
	}
	return s
}
