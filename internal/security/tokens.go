package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token validation errors. Handlers map all of them to 401; the distinguishing
// detail is logged server-side only.
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrTokenTypeMismatch = errors.New("token type not valid for access")
)

// TokenType discriminates access from refresh tokens. Tokens minted before
// the type claim existed carry no type at all; those validate as TypeLegacy
// and are accepted for access use.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeLegacy  TokenType = ""
)

// Claims holds the JWT claims for both token types.
type Claims struct {
	jwt.RegisteredClaims
	Email     string    `json:"email"`
	TokenType TokenType `json:"type,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
}

// TokenService issues, validates, and revokes HS256-signed session tokens.
// Revocation state lives in the injected TokenBlacklist so it can be process-
// local or shared (Redis) depending on deployment.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	blacklist  TokenBlacklist
	nowF       func() time.Time
}

// NewTokenService returns a TokenService signing with the given shared secret.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, blacklist TokenBlacklist) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		blacklist:  blacklist,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints a signed token for the subject. refresh selects the refresh
// type and TTL; deviceID, when non-empty, is embedded for device tracking.
func (s *TokenService) Issue(subject, email, deviceID string, refresh bool) (string, error) {
	now := s.nowF()
	ttl := s.accessTTL
	typ := TypeAccess
	if refresh {
		ttl = s.refreshTTL
		typ = TypeRefresh
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:     email,
		TokenType: typ,
		DeviceID:  deviceID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// Validate checks a token for resource access and returns its subject.
// Order matters: revocation is checked before the signature so a revoked
// token is rejected even while otherwise valid; refresh tokens are never
// accepted for resource access; a missing type claim (legacy token) is.
func (s *TokenService) Validate(ctx context.Context, tokenString string) (string, error) {
	revoked, err := s.blacklist.Contains(ctx, tokenString)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", ErrTokenRevoked
	}
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.TokenType != TypeAccess && claims.TokenType != TypeLegacy {
		return "", ErrTokenTypeMismatch
	}
	return claims.Subject, nil
}

// ValidateRefresh checks a refresh token and returns its claims. Used by the
// refresh endpoint to mint a new access token.
func (s *TokenService) ValidateRefresh(ctx context.Context, tokenString string) (*Claims, error) {
	revoked, err := s.blacklist.Contains(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, ErrTokenTypeMismatch
	}
	return claims, nil
}

// Revoke adds the raw token to the blacklist unconditionally, even if it is
// currently invalid or expired. Fails only on blacklist storage error. The
// entry's TTL comes from the token's own expiry when it can still be decoded;
// undecodable tokens are kept for the refresh TTL as the upper bound.
func (s *TokenService) Revoke(ctx context.Context, tokenString string) error {
	ttl := s.refreshTTL
	if claims, err := s.parse(tokenString); err == nil && claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(s.nowF()); remaining > 0 {
			ttl = remaining
		}
	}
	return s.blacklist.Add(ctx, tokenString, ttl)
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.nowF))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
