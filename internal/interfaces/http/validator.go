package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxSlugLength    = 64
	MaxTitleLength   = 256
	MaxContactLength = 32
)

var (
	slugPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	contactPattern = regexp.MustCompile(`^\+?[0-9]{8,20}$`)
)

// ValidSlug checks if a slug is safe (alphanumeric + underscore + hyphen)
func ValidSlug(s string) bool {
	if s == "" || len(s) > MaxSlugLength {
		return false
	}
	return slugPattern.MatchString(s)
}

// ValidContact accepts a bare phone number, optionally with a leading +
func ValidContact(s string) bool {
	if s == "" || len(s) > MaxContactLength {
		return false
	}
	return contactPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}
