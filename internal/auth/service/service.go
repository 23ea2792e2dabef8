// Package service implements registration, login, token refresh, logout, and
// the browser-based web-login completion flow.
package service

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/textextract/textextract/internal/auth/onetime"
	"github.com/textextract/textextract/internal/auth/ratelimit"
	devicedomain "github.com/textextract/textextract/internal/device/domain"
	"github.com/textextract/textextract/internal/security"
	userdomain "github.com/textextract/textextract/internal/user/domain"
)

// Sentinel errors for the auth service; the handler maps them to HTTP statuses.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrAccountInactive        = errors.New("account is inactive")
	ErrInvalidRefreshToken    = errors.New("invalid or expired refresh token")
	ErrInvalidOneTimeToken    = errors.New("invalid or expired token")
)

// RateLimitedError is returned when the client address is locked out. Message
// discloses the remaining wait time; lockouts are not security-sensitive.
type RateLimitedError struct {
	Message string
}

func (e *RateLimitedError) Error() string { return e.Message }

// ValidationError is returned for malformed input (email format, password
// strength, missing fields). The handler maps it to 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetEmailVerified(ctx context.Context, userID string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// DeviceRegistrar records device identifiers against users, enforcing quotas.
type DeviceRegistrar interface {
	Register(ctx context.Context, userID, identifier string, info *devicedomain.Info) (string, error)
}

// Mailer delivers verification and password-reset links. Delivery itself is an
// external collaborator; implementations may just log the link in development.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// AuthResult holds the outcome of Register, Login, or CompleteWebLogin.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	User         *userdomain.User
}

// DeviceAttrs carries the optional device identity sent with a request.
type DeviceAttrs struct {
	Identifier string
	Info       *devicedomain.Info
}

// Service wires the token service, rate limiter, and repositories into the
// login/session protocol.
type Service struct {
	users    UserRepo
	devices  DeviceRegistrar
	hasher   *security.Hasher
	tokens   *security.TokenService
	attempts *ratelimit.Tracker
	oneTime  onetime.Store
	mailer   Mailer
	sleepF   func(time.Duration)
}

// New returns a Service with the given dependencies.
func New(
	users UserRepo,
	devices DeviceRegistrar,
	hasher *security.Hasher,
	tokens *security.TokenService,
	attempts *ratelimit.Tracker,
	oneTime onetime.Store,
	mailer Mailer,
) *Service {
	return &Service{
		users:    users,
		devices:  devices,
		hasher:   hasher,
		tokens:   tokens,
		attempts: attempts,
		oneTime:  oneTime,
		mailer:   mailer,
		sleepF:   time.Sleep,
	}
}

// Register creates a user, issues an access+refresh token pair, and registers
// the device when an identifier is supplied.
func (s *Service) Register(ctx context.Context, email, password, fullName string, device *DeviceAttrs) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hashed,
		Plan:         userdomain.PlanFree,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	verifyToken := uuid.New().String()
	s.oneTime.Put(ctx, verifyToken, user.ID, now.Add(24*time.Hour))
	_ = s.mailer.SendVerification(ctx, email, verifyToken)

	return s.issueFor(ctx, user, device)
}

// Login authenticates with email/password, consulting the per-address rate
// limiter first. clientKey is the caller's client address. A small random
// delay is added before both failure and success returns so response timing
// does not distinguish unknown emails from wrong passwords.
func (s *Service) Login(ctx context.Context, email, password, clientKey string, device *DeviceAttrs) (*AuthResult, error) {
	if allowed, msg := s.attempts.CheckAllowed(clientKey); !allowed {
		return nil, &RateLimitedError{Message: msg}
	}
	defer s.randomDelay()

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		s.attempts.RecordFailure(clientKey)
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.attempts.RecordFailure(clientKey)
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		s.attempts.RecordFailure(clientKey)
		return nil, ErrInvalidCredentials
	}
	if user.Status != userdomain.UserStatusActive {
		return nil, ErrAccountInactive
	}

	s.attempts.Reset(clientKey)
	now := time.Now().UTC()
	_ = s.users.UpdateLastLogin(ctx, user.ID, now)
	user.LastLoginAt = &now

	return s.issueFor(ctx, user, device)
}

// Refresh validates the refresh token and mints a new access token. The
// refresh token itself is not rotated; it stays valid until expiry or logout.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidRefreshToken
	}
	if user.Status != userdomain.UserStatusActive {
		return "", ErrAccountInactive
	}
	return s.tokens.Issue(user.ID, user.Email, claims.DeviceID, false)
}

// Logout revokes the access token and, when provided, the refresh token.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		return s.tokens.Revoke(ctx, refreshToken)
	}
	return nil
}

// CompleteWebLogin validates credentials submitted from the hosted login page
// and builds the callback URL that sends the issued tokens back to the
// desktop listener as query parameters. state is echoed back untouched.
func (s *Service) CompleteWebLogin(ctx context.Context, email, password, redirectURI, state, clientKey string, device *DeviceAttrs) (string, error) {
	if redirectURI == "" {
		return "", &ValidationError{Message: "redirect_uri is required"}
	}
	res, err := s.Login(ctx, email, password, clientKey, device)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", &ValidationError{Message: "invalid redirect_uri: " + err.Error()}
	}
	q := u.Query()
	q.Set("token", res.AccessToken)
	q.Set("refresh_token", res.RefreshToken)
	q.Set("user_id", res.User.ID)
	q.Set("email", res.User.Email)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyEmail consumes a verification token and marks the user verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, ok := s.oneTime.Consume(ctx, token)
	if !ok {
		return ErrInvalidOneTimeToken
	}
	return s.users.SetEmailVerified(ctx, userID)
}

// RequestPasswordReset issues a reset token for the email when the account
// exists. It reports success either way so the endpoint cannot be used to
// enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	token := uuid.New().String()
	s.oneTime.Put(ctx, token, user.ID, time.Now().UTC().Add(time.Hour))
	return s.mailer.SendPasswordReset(ctx, email, token)
}

// ResetPassword consumes a reset token and replaces the user's password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	userID, ok := s.oneTime.Consume(ctx, token)
	if !ok {
		return ErrInvalidOneTimeToken
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hashed)
}

func (s *Service) issueFor(ctx context.Context, user *userdomain.User, device *DeviceAttrs) (*AuthResult, error) {
	deviceID := ""
	if device != nil && device.Identifier != "" {
		deviceID = device.Identifier
		if _, err := s.devices.Register(ctx, user.ID, device.Identifier, device.Info); err != nil {
			return nil, err
		}
	}
	access, err := s.tokens.Issue(user.ID, user.Email, deviceID, false)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(user.ID, user.Email, deviceID, true)
	if err != nil {
		return nil, err
	}
	return &AuthResult{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

// randomDelay sleeps 50-150ms so failure and success paths have comparable,
// jittered response times.
func (s *Service) randomDelay() {
	s.sleepF(time.Duration(50+rand.Intn(100)) * time.Millisecond)
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Message: "email is required"}
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return &ValidationError{Message: "invalid email format"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return &ValidationError{Message: "password must be at least 8 characters"}
	}
	var hasUpper, hasLower, hasNumber bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasUpper {
		return &ValidationError{Message: "password must contain at least one uppercase letter"}
	}
	if !hasLower {
		return &ValidationError{Message: "password must contain at least one lowercase letter"}
	}
	if !hasNumber {
		return &ValidationError{Message: "password must contain at least one number"}
	}
	return nil
}
