package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than max", input: "abc", maxLen: 8, want: "abc"},
		{name: "exact length", input: "abcdefgh", maxLen: 8, want: "abcdefgh"},
		{name: "longer than max", input: "abcdefghij", maxLen: 8, want: "abcdefgh"},
		{name: "empty", input: "", maxLen: 8, want: ""},
		{name: "zero max", input: "abc", maxLen: 0, want: ""},
		{name: "negative max", input: "abc", maxLen: -1, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SafeTruncate(tc.input, tc.maxLen); got != tc.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		name string
		host string
		path string
		want string
	}{
		{name: "plain join", host: "https://auth.example.com", path: "/oauth2/token", want: "https://auth.example.com/oauth2/token"},
		{name: "trailing slash on host", host: "https://auth.example.com/", path: "/oauth2/token", want: "https://auth.example.com/oauth2/token"},
		{name: "missing leading slash on path", host: "https://auth.example.com", path: "oauth2/token", want: "https://auth.example.com/oauth2/token"},
		{name: "empty path", host: "https://auth.example.com/", path: "", want: "https://auth.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := JoinURL(tc.host, tc.path); got != tc.want {
				t.Errorf("JoinURL(%q, %q) = %q, want %q", tc.host, tc.path, got, tc.want)
			}
		})
	}
}

func TestKebabCase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "User already logged", want: "user-already-logged"},
		{input: "invalidCodeOrState", want: "invalid-code-or-state"},
		{input: "upstream_error", want: "upstream-error"},
		{input: "already-kebab", want: "already-kebab"},
		{input: "Token not active", want: "token-not-active"},
		{input: "  padded  ", want: "padded"},
		{input: "", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := KebabCase(tc.input); got != tc.want {
				t.Errorf("KebabCase(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
