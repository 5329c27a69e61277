package auth

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

const passwordSpecials = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

var ErrWeakPassword = errors.New("weak password")

// PasswordError names the first strength rule a password fails.
type PasswordError struct {
	Reason string
}

func (e *PasswordError) Error() string { return e.Reason }

func (e *PasswordError) Unwrap() error { return ErrWeakPassword }

// CheckPasswordStrength returns nil or a *PasswordError.
func CheckPasswordStrength(password string) error {
	if len(password) < 8 {
		return &PasswordError{Reason: "Password must be at least 8 characters long"}
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	switch {
	case !upper:
		return &PasswordError{Reason: "Password must contain at least one uppercase letter"}
	case !lower:
		return &PasswordError{Reason: "Password must contain at least one lowercase letter"}
	case !digit:
		return &PasswordError{Reason: "Password must contain at least one number"}
	case !special:
		return &PasswordError{Reason: "Password must contain at least one special character"}
	}
	return nil
}

func hashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
