// Package auth verifies the bearer tokens carried by client-facing
// routes. Token issuance lives in the surrounding identity service; this
// package only needs to validate and extract the caller identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims carries the verified caller identity extracted from a token.
type Claims struct {
	UserID uuid.UUID
}

// TokenVerifier validates bearer tokens on client-facing routes.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
	GenerateToken(ctx context.Context, userID uuid.UUID) (string, error)
}

type jwtClaims struct {
	UserID uuid.UUID `json:"uid"`
	jwt.RegisteredClaims
}

type hmacVerifier struct {
	signingKey    []byte
	tokenLifetime time.Duration
	timeFunc      func() time.Time
}

var _ TokenVerifier = (*hmacVerifier)(nil)

// NewTokenVerifier creates an HMAC-SHA256 token verifier.
func NewTokenVerifier(secret string) (TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	return &hmacVerifier{
		signingKey:    []byte(secret),
		tokenLifetime: time.Hour,
		timeFunc:      time.Now,
	}, nil
}

// ValidateToken parses and verifies a token, returning the caller claims.
func (v *hmacVerifier) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwtClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(2*time.Minute),
		jwt.WithTimeFunc(v.timeFunc),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	return &Claims{UserID: claims.UserID}, nil
}

// GenerateToken issues a signed token for the given user. Used by tests
// and local tooling; production tokens come from the identity service.
func (v *hmacVerifier) GenerateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	now := v.timeFunc()
	claims := jwtClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenLifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
