package ipa

import (
	"regexp"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmailFormat reports whether email has a local part, an "@" and a
// domain containing a dot. The top-level label is not checked, so short and
// internationalised domains pass.
func ValidateEmailFormat(email string) bool {
	return emailRegex.MatchString(email)
}
