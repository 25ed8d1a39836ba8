package utils

import "strings"

// MaskSensitive masks sensitive data like credentials, showing only a prefix.
// An auth scheme such as "Bearer " or "Basic " is kept readable.
func MaskSensitive(s string, prefixLen int) string {
	if s == "" {
		return ""
	}

	scheme := ""
	value := s
	if i := strings.IndexByte(s, ' '); i > 0 && i < len(s)-1 {
		scheme = s[:i+1]
		value = s[i+1:]
	}

	if len(value) <= prefixLen {
		return scheme + strings.Repeat("*", len(value))
	}

	// Show first prefixLen characters and mask the rest
	masked := value[:prefixLen] + strings.Repeat("*", 8)
	return scheme + masked
}

// MaskCredential masks an Authorization header value for logging.
func MaskCredential(credential string) string {
	return MaskSensitive(strings.TrimSpace(credential), 6)
}
