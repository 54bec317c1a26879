// Package insurance manages user-declared insurance policies.
package insurance

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/domain"
)

// Repository persists insurance policies
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new insurance repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "insurance").Logger(),
	}
}

const policyColumns = `id, user_id, policy_type, provider, coverage_amount, premium, premium_frequency, renewal_date, notes, created_at`

// Create inserts a new policy and populates its id
func (r *Repository) Create(policy *domain.InsurancePolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	policy.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(
		`INSERT INTO insurance_policies (`+policyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policy.ID, policy.UserID, policy.PolicyType, policy.Provider, policy.CoverageAmount,
		policy.Premium, policy.PremiumFrequency, policy.RenewalDate, policy.Notes,
		policy.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

// Get fetches one policy scoped to its owner
func (r *Repository) Get(id, userID string) (*domain.InsurancePolicy, error) {
	row := r.db.QueryRow(`SELECT `+policyColumns+` FROM insurance_policies WHERE id = ? AND user_id = ?`, id, userID)
	return scanPolicyFrom(row)
}

// List returns every policy for a user
func (r *Repository) List(userID string) ([]domain.InsurancePolicy, error) {
	rows, err := r.db.Query(
		`SELECT `+policyColumns+` FROM insurance_policies WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.InsurancePolicy
	for rows.Next() {
		policy, err := scanPolicyFrom(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *policy)
	}
	return policies, rows.Err()
}

// allowedUpdateColumns maps accepted API field names to their columns
var allowedUpdateColumns = map[string]string{
	"policy_type":       "policy_type",
	"provider":          "provider",
	"coverage_amount":   "coverage_amount",
	"premium":           "premium",
	"premium_frequency": "premium_frequency",
	"renewal_date":      "renewal_date",
	"notes":             "notes",
}

// AllowedField reports whether an API field name may be updated
func AllowedField(name string) (string, bool) {
	col, ok := allowedUpdateColumns[name]
	return col, ok
}

// Update applies an allowlisted column map, scoped to the owner
func (r *Repository) Update(id, userID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	query := `UPDATE insurance_policies SET `
	args := make([]interface{}, 0, len(fields)+2)
	first := true
	for col, val := range fields {
		if !first {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, val)
		first = false
	}
	query += ` WHERE id = ? AND user_id = ?`
	args = append(args, id, userID)

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a policy
func (r *Repository) Delete(id, userID string) error {
	res, err := r.db.Exec(`DELETE FROM insurance_policies WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicyFrom(s rowScanner) (*domain.InsurancePolicy, error) {
	var p domain.InsurancePolicy
	var createdAt int64
	err := s.Scan(&p.ID, &p.UserID, &p.PolicyType, &p.Provider, &p.CoverageAmount,
		&p.Premium, &p.PremiumFrequency, &p.RenewalDate, &p.Notes, &createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}
