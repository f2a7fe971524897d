package auth

import (
	"errors"
	"strings"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found")

// ErrNoEmptyString rejects blank secrets before they reach the hasher
var ErrNoEmptyString = errors.New("expected non empty string")

// ErrMismatchedHashAndPassword is returned when a password does not
// match the stored hash
var ErrMismatchedHashAndPassword = errors.New("credentials do not match")

// ErrTokenExpired is returned when a confirmation token is consumed
// outside its validity window
var ErrTokenExpired = errors.New("confirmation token expired")

// ErrAccountDisabled blocks password operations on unconfirmed accounts
var ErrAccountDisabled = errors.New("account is not enabled")

// TextCodeTokenExpired is the machine readable code for expired tokens
const TextCodeTokenExpired = "TOKEN_EXPIRED"

// IsTokenExpiredError will check for expired confirmation tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired") ||
		strings.Contains(err.Error(), "token has expired")
}
