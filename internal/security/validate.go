package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTextLength bounds SanitizeText output, in characters.
const MaxTextLength = 100_000

const maxEmailLength = 255

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SanitizeText normalises untrusted text. Non-string input yields "".
// NUL bytes are removed, surrounding whitespace trimmed and the result
// truncated to MaxTextLength characters.
func SanitizeText(input any) string {
	s, ok := input.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if utf8.RuneCountInString(s) <= MaxTextLength {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxTextLength {
			return s[:i]
		}
		n++
	}
	return s
}

// IsValidUUID accepts only the canonical hyphenated form of an RFC 4122
// UUID with version 1 to 5. Case is ignored.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	if v := id.Version(); v < 1 || v > 5 {
		return false
	}
	return id.Variant() == uuid.RFC4122
}

// IsValidEmail checks the local@domain.tld shape without whitespace.
func IsValidEmail(s string) bool {
	return len(s) <= maxEmailLength && emailPattern.MatchString(s)
}
