package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOTP indicates a rejected one-time password.
	ErrInvalidOTP = errors.New("invalid one-time password")
	// ErrTooManyAttempts indicates a temporarily locked account key.
	ErrTooManyAttempts = errors.New("too many attempts")
)
