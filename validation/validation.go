// Package validation checks user input before it reaches the protocol.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	MinUsernameLength = 3
	MinPasswordLength = 8
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrInvalidEmail     = fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	ErrInvalidUsername  = fmt.Errorf("%w: username must be at least %d characters", ErrInvalidInput, MinUsernameLength)
	ErrWeakPassword     = fmt.Errorf("%w: password must be at least %d characters and contain a digit", ErrInvalidInput, MinPasswordLength)
	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	ErrUnknownDomain    = fmt.Errorf("%w: email domain does not accept mail", ErrInvalidInput)
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail lowercases and trims an email address. Every lookup by email
// goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the address format.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if len([]rune(strings.TrimSpace(username))) < MinUsernameLength {
		return ErrInvalidUsername
	}
	return nil
}

// ValidatePassword enforces the minimum password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return ErrWeakPassword
	}
	return nil
}

// ValidateNewPassword checks the policy and that the confirmation matches.
func ValidateNewPassword(password, confirm string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

// EmailDomain returns the part after the last '@'.
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return email[at+1:]
}
