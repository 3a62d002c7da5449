package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-strategy/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
)

// ErrNotEnrolled is returned when a user without a TOTP secret tries to verify a code.
var ErrNotEnrolled = fmt.Errorf("%w: not enrolled", shared.ErrInvalidOTP)

// AttemptLimiter tracks failed attempts per key.
type AttemptLimiter interface {
	Blocked(key string) (bool, time.Duration)
	Fail(key string) bool
	Reset(key string)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	attempts AttemptLimiter
	issuer   string
	now      func() time.Time
}

// NewService constructs a new Service. attempts may be nil to use a default store.
func NewService(repo Repository, attempts AttemptLimiter, issuer string) *Service {
	if attempts == nil {
		attempts = ratelimit.New(ratelimit.Config{})
	}
	if issuer == "" {
		issuer = "Odyssey Strategy"
	}
	return &Service{repo: repo, attempts: attempts, issuer: issuer, now: time.Now}
}

// Authenticate validates email/password credentials. Repeated failures for one email
// lock it for a while with ErrTooManyAttempts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	key := "login:" + strings.ToLower(strings.TrimSpace(email))
	if blocked, _ := s.attempts.Blocked(key); blocked {
		return nil, shared.ErrTooManyAttempts
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if err != nil || !user.IsActive {
		s.attempts.Fail(key)
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.attempts.Fail(key)
		return nil, shared.ErrInvalidCredentials
	}
	s.attempts.Reset(key)
	return user, nil
}

// VerifyOTP checks a TOTP code for the user.
func (s *Service) VerifyOTP(ctx context.Context, userID int64, code string) error {
	key := "mfa:" + strconv.FormatInt(userID, 10)
	if blocked, _ := s.attempts.Blocked(key); blocked {
		return shared.ErrTooManyAttempts
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnrolled() {
		return ErrNotEnrolled
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), user.MFASecret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		s.attempts.Fail(key)
		return shared.ErrInvalidOTP
	}
	s.attempts.Reset(key)
	return nil
}

// EnrollMFA generates and stores a new TOTP secret, returning the provisioning key.
func (s *Service) EnrollMFA(ctx context.Context, email string) (*otp.Key, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: user.Email})
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetMFASecret(ctx, user.ID, key.Secret()); err != nil {
		return nil, err
	}
	return key, nil
}

// CreateUser hashes password and stores a new active account.
func (s *Service) CreateUser(ctx context.Context, email, password, role string, ipRestrictions []string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.repo.CreateUser(ctx, User{
		Email:          email,
		PasswordHash:   string(hash),
		Role:           role,
		IPRestrictions: ipRestrictions,
		IsActive:       true,
	})
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
