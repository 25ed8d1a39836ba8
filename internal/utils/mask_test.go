package utils

import "testing"

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		prefixLen int
		expected  string
	}{
		{name: "empty string", input: "", prefixLen: 10, expected: ""},
		{name: "short value fully masked", input: "abc", prefixLen: 10, expected: "***"},
		{name: "long value keeps prefix", input: "sk-1234567890abcdef", prefixLen: 10, expected: "sk-1234567********"},
		{name: "bearer scheme preserved", input: "Bearer sk-1234567890abcdef", prefixLen: 10, expected: "Bearer sk-1234567********"},
		{name: "basic scheme preserved", input: "Basic dXNlcjpwYXNz", prefixLen: 4, expected: "Basic dXNl********"},
		{name: "short bearer token", input: "Bearer abc", prefixLen: 10, expected: "Bearer ***"},
		{name: "trailing space is not a scheme", input: "token ", prefixLen: 2, expected: "to********"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSensitive(tt.input, tt.prefixLen); got != tt.expected {
				t.Errorf("MaskSensitive(%q, %d) = %q, want %q", tt.input, tt.prefixLen, got, tt.expected)
			}
		})
	}
}

func TestMaskCredential(t *testing.T) {
	tests := map[string]string{
		"Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig": "Bearer eyJhbG********",
		"  Bearer x  ":                            "Bearer *",
		"plain-token-value":                       "plain-********",
		"":                                        "",
	}
	for in, want := range tests {
		if got := MaskCredential(in); got != want {
			t.Errorf("MaskCredential(%q) = %q, want %q", in, got, want)
		}
	}
}
