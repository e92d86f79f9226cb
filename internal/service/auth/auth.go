// Package auth implements the gateway's operator authentication: a
// single operator account verified with bcrypt, and HS256 JWT bearer
// tokens for the API endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/avdeev/poizon-sync/internal/config"
)

const defaultTokenLifetime = 12 * time.Hour

var (
	// ErrInvalidCredentials is returned for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for a missing, malformed, expired or
	// tampered token.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims issued at login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and validates operator tokens.
type Service struct {
	secret        []byte
	tokenLifetime time.Duration
	username      string
	passwordHash  []byte
	logger        *slog.Logger
}

// NewService creates the auth service. The JWT secret and the operator
// account must be configured.
func NewService(cfg config.AuthConfig, logger *slog.Logger) (*Service, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	if cfg.OperatorUsername == "" || cfg.OperatorPasswordHash == "" {
		return nil, errors.New("operator credentials are not configured")
	}
	lifetime := cfg.TokenLifetime
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return &Service{
		secret:        []byte(cfg.JWTSecret),
		tokenLifetime: lifetime,
		username:      cfg.OperatorUsername,
		passwordHash:  []byte(cfg.OperatorPasswordHash),
		logger:        logger.With("component", "auth"),
	}, nil
}

// Login verifies the operator credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username != s.username {
		s.logger.Warn("login attempt for unknown user", "username", username)
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		s.logger.Warn("login attempt with wrong password", "username", username)
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("operator logged in", "username", username)
	return signed, nil
}

// ValidateToken checks the token signature and expiry and returns the
// claims.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for configuring the operator
// account.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
