// Package util provides common utility functions used across the library.
package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. It is used when logging token prefixes, where only the first
// few characters should ever be shown.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a base URL by removing trailing slashes, so that
// hosts with and without a trailing slash join with endpoint paths the same
// way.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// JoinURL joins a base host URL and an endpoint path, normalizing the
// slashes between them.
func JoinURL(host, path string) string {
	if path == "" {
		return NormalizeURL(host)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return NormalizeURL(host) + path
}

// KebabCase converts a message like "User already logged" or
// "invalidCodeOrState" into a stable kebab-cased error code for popup
// payloads.
func KebabCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	prevLower := false
	prevDash := true // suppress a leading dash
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			if prevLower && !prevDash {
				b.WriteByte('-')
			}
			b.WriteRune(r - 'A' + 'a')
			prevLower = false
			prevDash = false
		case r == ' ' || r == '_' || r == '-' || r == '\t':
			if !prevDash {
				b.WriteByte('-')
			}
			prevLower = false
			prevDash = true
		default:
			b.WriteRune(r)
			prevLower = r >= 'a' && r <= 'z'
			prevDash = false
		}
	}

	return strings.TrimRight(b.String(), "-")
}
