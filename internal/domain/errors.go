package domain

import "errors"

// Sentinel errors for the authentication flow. Handlers map these to generic
// client responses; none of them reveal whether an email is registered.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrAccountLocked   = errors.New("account locked")
	ErrInvalidOTP      = errors.New("invalid or expired otp")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenExpired    = errors.New("token expired")
)
