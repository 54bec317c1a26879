package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

func setupService(t *testing.T) (*Service, *Repository, *TokenService) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.NewInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, zerolog.Nop())
	tokens := NewTokenService("access-secret-for-tests", "refresh-secret-for-tests",
		15*time.Minute, 30*24*time.Hour)
	return NewService(repo, tokens, zerolog.Nop()), repo, tokens
}

func TestRegister(t *testing.T) {
	service, repo, tokens := setupService(t)

	user, pair, err := service.Register(context.Background(), "Alice@Example.COM", "hunter2hunter2", "Alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, pair)

	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, domain.PlanFree, user.Plan)
	assert.NotEmpty(t, user.ID)

	claims, err := tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)

	// Refresh tokens are not valid as access tokens
	_, err = tokens.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	n, err := repo.CountRefreshTokens(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegister_Validation(t *testing.T) {
	service, _, _ := setupService(t)
	ctx := context.Background()

	_, _, err := service.Register(ctx, "not-an-email", "hunter2hunter2", "")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, _, err = service.Register(ctx, "a@b.com", "short", "")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, _, err = service.Register(ctx, "dup@example.com", "hunter2hunter2", "")
	require.NoError(t, err)
	_, _, err = service.Register(ctx, "dup@example.com", "hunter2hunter2", "")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	service, _, _ := setupService(t)
	ctx := context.Background()

	_, _, err := service.Register(ctx, "bob@example.com", "correct-horse-battery", "Bob")
	require.NoError(t, err)

	user, pair, err := service.Login(ctx, "BOB@example.com", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.NotEmpty(t, pair.RefreshToken)

	_, _, err = service.Login(ctx, "bob@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown users get the same error as a wrong password
	_, _, err = service.Login(ctx, "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesExactlyOnce(t *testing.T) {
	service, repo, _ := setupService(t)
	ctx := context.Background()

	user, pair, err := service.Register(ctx, "carol@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	_, next, err := service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Rotation keeps exactly one live session
	n, err := repo.CountRefreshTokens(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The old token was revoked by the rotation
	_, _, err = service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// The new one still works
	_, _, err = service.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	service, _, _ := setupService(t)

	_, _, err := service.Refresh(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	service, _, _ := setupService(t)
	ctx := context.Background()

	_, pair, err := service.Register(ctx, "dave@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	_, _, err = service.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLogout(t *testing.T) {
	service, repo, _ := setupService(t)
	ctx := context.Background()

	user, pair, err := service.Register(ctx, "erin@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	service.Logout(ctx, pair.RefreshToken)

	n, err := repo.CountRefreshTokens(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, _, err = service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestChangePassword_RevokesSessions(t *testing.T) {
	service, repo, _ := setupService(t)
	ctx := context.Background()

	user, _, err := service.Register(ctx, "frank@example.com", "old-password-123", "")
	require.NoError(t, err)
	_, _, err = service.Login(ctx, "frank@example.com", "old-password-123")
	require.NoError(t, err)

	err = service.ChangePassword(ctx, user.ID, "wrong", "new-password-456")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = service.ChangePassword(ctx, user.ID, "old-password-123", "new-password-456")
	require.NoError(t, err)

	n, err := repo.CountRefreshTokens(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, _, err = service.Login(ctx, "frank@example.com", "old-password-123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = service.Login(ctx, "frank@example.com", "new-password-456")
	require.NoError(t, err)
}

func TestTokenService_ExpiredToken(t *testing.T) {
	tokens := NewTokenService("access-secret-for-tests", "refresh-secret-for-tests",
		-time.Minute, 30*24*time.Hour)
	user := &domain.User{ID: "u1", Email: "a@b.com", Plan: domain.PlanFree}

	expired, err := tokens.IssueAccess(user)
	require.NoError(t, err)
	_, err = tokens.VerifyAccess(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_WrongSecret(t *testing.T) {
	issuer := NewTokenService("secret-one-aaaaaaaa", "secret-two-bbbbbbbb", time.Minute, time.Minute)
	verifier := NewTokenService("different-secret-cc", "secret-two-bbbbbbbb", time.Minute, time.Minute)
	user := &domain.User{ID: "u1", Email: "a@b.com"}

	token, err := issuer.IssueAccess(user)
	require.NoError(t, err)
	_, err = verifier.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
