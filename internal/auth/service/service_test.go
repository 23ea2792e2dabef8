package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/textextract/textextract/internal/auth/onetime"
	"github.com/textextract/textextract/internal/auth/ratelimit"
	devicedomain "github.com/textextract/textextract/internal/device/domain"
	"github.com/textextract/textextract/internal/security"
	userdomain "github.com/textextract/textextract/internal/user/domain"
)

type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*userdomain.User
	byEmail map[string]*userdomain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[string]*userdomain.User),
		byEmail: make(map[string]*userdomain.User),
	}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail[email], nil
}

func (r *fakeUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = &cp
	return nil
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.PasswordHash = passwordHash
	return nil
}

func (r *fakeUserRepo) SetEmailVerified(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.EmailVerified = true
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRegistrar) Register(ctx context.Context, userID, identifier string, info *devicedomain.Info) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, userID+"/"+identifier)
	return "dev-row-id", nil
}

type fakeMailer struct {
	mu         sync.Mutex
	verifyTo   []string
	resetTo    []string
	lastVerify string
	lastReset  string
}

func (m *fakeMailer) SendVerification(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyTo = append(m.verifyTo, email)
	m.lastVerify = token
	return nil
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTo = append(m.resetTo, email)
	m.lastReset = token
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo, *fakeRegistrar, *fakeMailer) {
	t.Helper()
	users := newFakeUserRepo()
	reg := &fakeRegistrar{}
	mailer := &fakeMailer{}
	tokens := security.NewTokenService("test-secret", 24*time.Hour, 720*time.Hour, security.NewMemoryBlacklist())
	svc := New(users, reg, security.NewHasher(4), tokens, ratelimit.NewTracker(5, 15*time.Minute), onetime.NewMemoryStore(), mailer)
	svc.sleepF = func(time.Duration) {}
	return svc, users, reg, mailer
}

func TestRegisterIssuesTokenPairAndRegistersDevice(t *testing.T) {
	svc, users, reg, mailer := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "a@b.com", "Abc12345!", "Alice", &DeviceAttrs{Identifier: "dev-1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if res.AccessToken == res.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	u, _ := users.GetByEmail(ctx, "a@b.com")
	if u == nil {
		t.Fatal("user not persisted")
	}
	if u.Plan != userdomain.PlanFree {
		t.Errorf("new users default to the free plan, got %q", u.Plan)
	}
	if len(reg.calls) != 1 || reg.calls[0] != u.ID+"/dev-1" {
		t.Errorf("device registration calls: %v", reg.calls)
	}
	if len(mailer.verifyTo) != 1 || mailer.verifyTo[0] != "a@b.com" {
		t.Errorf("verification mail recipients: %v", mailer.verifyTo)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := svc.Register(ctx, "A@B.com", "Abc12345!", "", nil)
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("want ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, pw := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoNumbersHere"} {
		_, err := svc.Register(ctx, "a@b.com", pw, "", nil)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("password %q: want ValidationError, got %v", pw, err)
		}
	}
}

func TestRegisterBadEmailIsValidationError(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, email := range []string{"", "not-an-email", "a@b"} {
		_, err := svc.Register(ctx, email, "Abc12345!", "", nil)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("email %q: want ValidationError, got %v", email, err)
		}
	}
}

func TestCompleteWebLoginMissingRedirectIsValidationError(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CompleteWebLogin(ctx, "a@b.com", "Abc12345!", "", "", "10.0.0.1", nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := svc.Login(ctx, "a@b.com", "wrong-pass1A", "10.0.0.1", nil); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("want ErrInvalidCredentials, got %v", err)
		}
	}
	res, err := svc.Login(ctx, "a@b.com", "Abc12345!", "10.0.0.1", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.LastLoginAt == nil {
		t.Error("last login timestamp should be set")
	}

	// Counter reset: four more failures are still below the threshold.
	for i := 0; i < 4; i++ {
		svc.Login(ctx, "a@b.com", "wrong-pass1A", "10.0.0.1", nil)
	}
	if _, err := svc.Login(ctx, "a@b.com", "Abc12345!", "10.0.0.1", nil); err != nil {
		t.Fatalf("should not be locked out after reset: %v", err)
	}
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 5; i++ {
		svc.Login(ctx, "a@b.com", "wrong-pass1A", "10.0.0.1", nil)
	}
	_, err := svc.Login(ctx, "a@b.com", "Abc12345!", "10.0.0.1", nil)
	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("want RateLimitedError, got %v", err)
	}
	if !strings.Contains(rle.Message, "seconds") {
		t.Errorf("lockout message should disclose remaining wait, got %q", rle.Message)
	}

	// A different client address is unaffected.
	if _, err := svc.Login(ctx, "a@b.com", "Abc12345!", "10.0.0.2", nil); err != nil {
		t.Fatalf("other client should not be locked out: %v", err)
	}
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "nobody@b.com", "Abc12345!", "10.0.0.1", nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must yield the generic credential error, got %v", err)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, users, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, _ := users.GetByEmail(ctx, "a@b.com")
	u.Status = userdomain.UserStatusDisabled

	if _, err := svc.Login(ctx, "a@b.com", "Abc12345!", "10.0.0.1", nil); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("want ErrAccountInactive, got %v", err)
	}
}

func TestRefreshMintsNewAccessToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	res, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	access, err := svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if access == "" || access == res.AccessToken {
		t.Fatal("refresh must mint a distinct access token")
	}

	// An access token is not usable as a refresh token.
	if _, err := svc.Refresh(ctx, res.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("access token used for refresh: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	res, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Logout(ctx, res.AccessToken, res.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); err == nil {
		t.Fatal("revoked refresh token should be rejected")
	}
}

func TestCompleteWebLoginBuildsCallbackURL(t *testing.T) {
	svc, users, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, _ := users.GetByEmail(ctx, "a@b.com")

	raw, err := svc.CompleteWebLogin(ctx, "a@b.com", "Abc12345!", "http://127.0.0.1:8989/callback", "st4te", "10.0.0.1", nil)
	if err != nil {
		t.Fatalf("CompleteWebLogin: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("callback URL does not parse: %v", err)
	}
	q := parsed.Query()
	if q.Get("token") == "" || q.Get("refresh_token") == "" {
		t.Error("callback URL must carry both tokens")
	}
	if q.Get("user_id") != u.ID || q.Get("email") != "a@b.com" {
		t.Errorf("identity params: user_id=%q email=%q", q.Get("user_id"), q.Get("email"))
	}
	if q.Get("state") != "st4te" {
		t.Errorf("state must be echoed back, got %q", q.Get("state"))
	}
	if parsed.Host != "127.0.0.1:8989" || parsed.Path != "/callback" {
		t.Errorf("redirect target altered: %s", raw)
	}
}

func TestVerifyEmail(t *testing.T) {
	svc, users, _, mailer := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.VerifyEmail(ctx, mailer.lastVerify); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	u, _ := users.GetByEmail(ctx, "a@b.com")
	if !u.EmailVerified {
		t.Error("user should be marked verified")
	}
	if err := svc.VerifyEmail(ctx, mailer.lastVerify); !errors.Is(err, ErrInvalidOneTimeToken) {
		t.Fatalf("second use must fail, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _, _, mailer := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.com", "Abc12345!", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := svc.ResetPassword(ctx, mailer.lastReset, "NewPass99x"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.Login(ctx, "a@b.com", "Abc12345!", "10.0.0.1", nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password should no longer work")
	}
	if _, err := svc.Login(ctx, "a@b.com", "NewPass99x", "10.0.0.2", nil); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc, _, _, mailer := newTestService(t)
	if err := svc.RequestPasswordReset(context.Background(), "nobody@b.com"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if len(mailer.resetTo) != 0 {
		t.Error("no mail should be sent for unknown accounts")
	}
}
