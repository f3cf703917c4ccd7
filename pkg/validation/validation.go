package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	phonePattern       = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)
	sessionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
)

// ValidateSessionName ensures an operator-chosen session name is usable as a
// registry key and a credential directory name.
func ValidateSessionName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("session name cannot be empty")
	}
	if !sessionNamePattern.MatchString(trimmed) {
		return errors.New("session name must be alphanumeric (dash/underscore allowed) and at most 64 characters")
	}
	return nil
}

// ValidatePhone ensures international format (no leading 0, digits only, length 6-16).
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

// ValidateMessage ensures a non-empty text payload.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message cannot be empty")
	}
	return nil
}
