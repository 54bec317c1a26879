package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

var (
	// ErrEmailTaken is returned when registering an existing email
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound is returned by scoped user lookups
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenNotFound is returned when a refresh-token hash has no row
	ErrTokenNotFound = errors.New("refresh token not found or expired")
)

// Repository persists users and refresh tokens
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new auth repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "auth").Logger(),
	}
}

const userColumns = `id, email, password_hash, name, plan, subscription_status, created_at`

// CreateUser inserts a new user. Emails are case-folded before storage.
func (r *Repository) CreateUser(user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Plan == "" {
		user.Plan = domain.PlanFree
	}
	if user.SubscriptionStatus == "" {
		user.SubscriptionStatus = "active"
	}
	user.CreatedAt = time.Now().UTC()

	_, err := r.db.Conn().Exec(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Name, string(user.Plan),
		user.SubscriptionStatus, user.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail looks up a user by case-folded email
func (r *Repository) GetUserByEmail(email string) (*domain.User, error) {
	row := r.db.Conn().QueryRow(
		`SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// GetUser looks up a user by id
func (r *Repository) GetUser(id string) (*domain.User, error) {
	row := r.db.Conn().QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListUserIDs returns every user id, oldest first. The scheduler fans jobs
// out over this list.
func (r *Repository) ListUserIDs() ([]string, error) {
	rows, err := r.db.Conn().Query(`SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateName changes a user's display name
func (r *Repository) UpdateName(id, name string) error {
	res, err := r.db.Conn().Exec(`UPDATE users SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the password verifier
func (r *Repository) UpdatePassword(id, passwordHash string) error {
	res, err := r.db.Conn().Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SaveRefreshToken stores the hash of a newly issued refresh token
func (r *Repository) SaveRefreshToken(userID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.Conn().Exec(
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, tokenHash, expiresAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken looks up an unexpired refresh token by hash
func (r *Repository) FindRefreshToken(tokenHash string) (*domain.RefreshToken, error) {
	var rt domain.RefreshToken
	var expiresAt int64
	err := r.db.Conn().QueryRow(
		`SELECT id, user_id, token_hash, expires_at FROM refresh_tokens
		 WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, time.Now().Unix(),
	).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	rt.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &rt, nil
}

// RotateRefreshToken atomically replaces an old refresh-token row with a new
// one. The delete and insert commit together so a crash can never leave both
// tokens valid.
func (r *Repository) RotateRefreshToken(ctx context.Context, oldID, userID, newHash string, expiresAt time.Time) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM refresh_tokens WHERE id = ?`, oldID)
		if err != nil {
			return fmt.Errorf("failed to revoke old refresh token: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost the race with a concurrent refresh using the same token
			return ErrTokenNotFound
		}
		_, err = tx.Exec(
			`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), userID, newHash, expiresAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to store rotated refresh token: %w", err)
		}
		return nil
	})
}

// DeleteRefreshToken revokes one refresh token by hash
func (r *Repository) DeleteRefreshToken(tokenHash string) error {
	_, err := r.db.Conn().Exec(`DELETE FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokens logs the user out of every session
func (r *Repository) RevokeAllRefreshTokens(userID string) error {
	_, err := r.db.Conn().Exec(`DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// CountRefreshTokens returns the number of live sessions for a user
func (r *Repository) CountRefreshTokens(userID string) (int, error) {
	var n int
	err := r.db.Conn().QueryRow(
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var plan string
	var createdAt int64
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &plan,
		&user.SubscriptionStatus, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.Plan = domain.Plan(plan)
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &user, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
