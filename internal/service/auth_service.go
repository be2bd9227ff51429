package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in access tokens.
const (
	RoleBuyer    = "buyer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"` // always "access"
}

// UserID returns the subject as a UUID.
func (c *AppClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrTokenInvalid
	}
	return id, nil
}

// AuthService verifies bearer tokens issued by the identity provider and
// mints operator tokens. Registration and login live elsewhere.
type AuthService struct {
	cfg   *config.Config
	clock clock.Clock
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *config.Config, clk clock.Clock) *AuthService {
	return &AuthService{cfg: cfg, clock: clk}
}

// IssueAccessToken signs an HS256 access token for userID with role.
func (s *AuthService) IssueAccessToken(userID uuid.UUID, role string) (string, error) {
	now := s.clock.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTTL)),
		},
		Role:      role,
		TokenType: "access",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return tok, nil
}

// ParseAccessToken validates the token signature, algorithm, expiry and type.
// An otherwise valid token past its TTL yields domain.ErrTokenExpired.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	secret := []byte(s.cfg.JWT.AccessSecret)
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.clock.Now() }))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, domain.ErrTokenExpired
	}
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || claims.TokenType != "access" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
