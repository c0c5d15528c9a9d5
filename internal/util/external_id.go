package util

import (
	"regexp"
	"strings"
)

var separators = regexp.MustCompile(`[\s\-\(\)]+`)

// NormalizeExternalID trims user input into the provider's recipient form.
// Handles ("@name") are lower-cased; phone numbers lose separators and a
// leading 00 becomes +.
func NormalizeExternalID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "@") {
		return strings.ToLower(s)
	}

	s = separators.ReplaceAllString(s, "")
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return s
}
