package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestIsValidUUID(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123e4567-e89b-12d3-a456-426614174000", true},
		{"123E4567-E89B-42D3-A456-426614174000", true},
		{"f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"not-a-uuid", false},
		{"", false},
		{"123e4567-e89b-62d3-a456-426614174000", false},
		{"123e4567-e89b-12d3-c456-426614174000", false},
		{"123e4567e89b12d3a456426614174000", false},
		{"{123e4567-e89b-12d3-a456-426614174000}", false},
		{"urn:uuid:123e4567-e89b-12d3-a456-426614174000", false},
	}
	for _, tc := range cases {
		if got := IsValidUUID(tc.in); got != tc.want {
			t.Fatalf("IsValidUUID(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"student@example.com", true},
		{"a.b+tag@uni.edu.au", true},
		{"no-at-sign.example.com", false},
		{"two@@example.com", false},
		{"space in@example.com", false},
		{"missing@tld", false},
		{strings.Repeat("a", 251) + "@x.io", false},
	}
	for _, tc := range cases {
		if got := IsValidEmail(tc.in); got != tc.want {
			t.Fatalf("IsValidEmail(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	if got := SanitizeText("  hello\x00 world \n"); got != "hello world" {
		t.Fatalf("unexpected sanitize result %q", got)
	}
	if got := SanitizeText(42); got != "" {
		t.Fatalf("expected empty string for non-string input, got %q", got)
	}
	if got := SanitizeText(nil); got != "" {
		t.Fatalf("expected empty string for nil, got %q", got)
	}
	if got := SanitizeText(" \x00 "); got != "" {
		t.Fatalf("expected empty after stripping, got %q", got)
	}

	long := strings.Repeat("a", 200_000)
	if got := SanitizeText(long); len(got) != MaxTextLength {
		t.Fatalf("expected %d chars, got %d", MaxTextLength, len(got))
	}

	multibyte := strings.Repeat("é", MaxTextLength+5)
	got := SanitizeText(multibyte)
	if n := utf8.RuneCountInString(got); n != MaxTextLength {
		t.Fatalf("expected %d runes, got %d", MaxTextLength, n)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
}
