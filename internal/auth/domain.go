package auth

import (
	"errors"
	"time"
)

// ErrEmailTaken is returned when another account already uses the email, compared
// case-insensitively.
var ErrEmailTaken = errors.New("auth: email already registered")

const uniqueViolation = "23505"

// User represents an authenticated user account.
type User struct {
	ID             int64
	Email          string
	PasswordHash   string
	Role           string
	MFASecret      string
	IPRestrictions []string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MFAEnrolled reports whether the user has a TOTP secret.
func (u *User) MFAEnrolled() bool {
	return u != nil && u.MFASecret != ""
}
