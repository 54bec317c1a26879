// Package auth implements JWT issuance and verification, refresh-token
// rotation, and the request guard middleware.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aristath/moneta/internal/domain"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrInvalidToken covers every verification failure: bad signature, expiry,
// wrong token type.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload for both token types
type Claims struct {
	Email string `json:"email"`
	Plan  string `json:"plan"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access and refresh tokens. The two token
// types use separate secrets so a leaked refresh secret cannot mint access
// tokens.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// AccessTTL returns the access-token lifetime
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh-token lifetime
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs a short-lived access token for the user
func (s *TokenService) IssueAccess(user *domain.User) (string, error) {
	return s.sign(user, tokenTypeAccess, s.accessSecret, s.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for the user
func (s *TokenService) IssueRefresh(user *domain.User) (string, error) {
	return s.sign(user, tokenTypeRefresh, s.refreshSecret, s.refreshTTL)
}

func (s *TokenService) sign(user *domain.User, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: user.Email,
		Plan:  string(user.Plan),
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique ID so two tokens minted in the same second differ
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return token, nil
}

// VerifyAccess validates an access token. Refresh tokens presented here are
// rejected even though they carry a valid signature.
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return s.verify(token, tokenTypeAccess, s.accessSecret)
}

// VerifyRefresh validates a refresh token
func (s *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return s.verify(token, tokenTypeRefresh, s.refreshSecret)
}

func (s *TokenService) verify(token, wantType string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a token. Only this hash is stored
// server-side for refresh tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
