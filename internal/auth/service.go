package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/aristath/moneta/internal/domain"
)

const (
	bcryptCost        = 12
	minPasswordLength = 8
)

var (
	// ErrInvalidCredentials is returned on a failed login
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrWeakPassword is returned when a password fails validation
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	// ErrInvalidEmail is returned for malformed email addresses
	ErrInvalidEmail = errors.New("invalid email address")
)

// TokenPair is one issued access/refresh pair
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Service implements registration, login, and token rotation
type Service struct {
	repo   *Repository
	tokens *TokenService
	log    zerolog.Logger
}

// NewService creates a new auth service
func NewService(repo *Repository, tokens *TokenService, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

// Register creates a user and issues the first token pair
func (s *Service) Register(ctx context.Context, email, password, name string) (*domain.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return nil, nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
	}
	if err := s.repo.CreateUser(user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().Str("user", user.ID).Msg("User registered")
	return user, pair, nil
}

// Login verifies credentials and issues a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	user, err := s.repo.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token: the old row is deleted and the new one
// inserted in a single transaction, so each refresh token works exactly once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.User, *TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, nil, ErrTokenNotFound
	}

	stored, err := s.repo.FindRefreshToken(HashToken(refreshToken))
	if err != nil {
		return nil, nil, err
	}

	user, err := s.repo.GetUser(stored.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.ID != claims.Subject {
		return nil, nil, ErrTokenNotFound
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return nil, nil, err
	}

	expiresAt := time.Now().Add(s.tokens.RefreshTTL())
	if err := s.repo.RotateRefreshToken(ctx, stored.ID, user.ID, HashToken(refresh), expiresAt); err != nil {
		return nil, nil, err
	}

	return user, &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the presented refresh token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	if err := s.repo.DeleteRefreshToken(HashToken(refreshToken)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to revoke refresh token on logout")
	}
}

// ChangePassword verifies the current password, installs the new verifier,
// and revokes every refresh token for the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	user, err := s.repo.GetUser(userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(userID, string(hash)); err != nil {
		return err
	}
	if err := s.repo.RevokeAllRefreshTokens(userID); err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("Failed to revoke sessions after password change")
	}

	s.log.Info().Str("user", userID).Msg("Password changed, sessions revoked")
	return nil
}

func (s *Service) issuePair(user *domain.User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(s.tokens.RefreshTTL())
	if err := s.repo.SaveRefreshToken(user.ID, HashToken(refresh), expiresAt); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// validEmail is deliberately loose: something@something.something
func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domainPart := email[at+1:]
	return strings.Contains(domainPart, ".") && !strings.ContainsAny(email, " \t")
}
