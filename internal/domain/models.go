// Package domain contains the shared entity types for Moneta.
// The domain layer is pure: no infrastructure dependencies.
package domain

import "time"

// Plan is a billing plan
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanLifetime Plan = "lifetime"
)

// User is an account holder. Users are never hard-deleted; deactivation is a
// subscription-status change.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	Name               string    `json:"name"`
	Plan               Plan      `json:"plan"`
	SubscriptionStatus string    `json:"subscription_status"`
	CreatedAt          time.Time `json:"created_at"`
}

// RefreshToken is the server-side record of an issued refresh token.
// Only the SHA-256 hash of the token bytes is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}

// LinkStatus is the health of an institution link
type LinkStatus string

const (
	LinkStatusGood          LinkStatus = "good"
	LinkStatusError         LinkStatus = "error"
	LinkStatusLoginRequired LinkStatus = "login_required"
)

// InstitutionLink is one connected external source (aggregator item, OFX
// endpoint, or manual uploads). AccessToken is sealed at rest.
type InstitutionLink struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	SourceKind      string     `json:"source_kind"` // aggregator | ofx | upload
	ItemID          string     `json:"item_id"`
	AccessToken     string     `json:"-"` // sealed, never serialized
	InstitutionID   string     `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	SyncCursor      string     `json:"-"`
	Status          LinkStatus `json:"status"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SourceAccount is one account under an InstitutionLink
type SourceAccount struct {
	ID               string   `json:"id"`
	ItemID           string   `json:"item_id"`
	UserID           string   `json:"user_id"`
	ExternalID       string   `json:"external_id"`
	Name             string   `json:"name"`
	AccountType      string   `json:"account_type"` // asset | liability
	AccountSubtype   string   `json:"account_subtype"`
	CurrentBalance   float64  `json:"current_balance"`
	AvailableBalance *float64 `json:"available_balance,omitempty"`
	CreditLimit      *float64 `json:"credit_limit,omitempty"`
	Currency         string   `json:"currency"`
	Hidden           bool     `json:"hidden"`
}

// SourceTransaction is a mirrored aggregator transaction
type SourceTransaction struct {
	TransactionID string  `json:"transaction_id"`
	AccountID     string  `json:"account_id"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Name          string  `json:"name"`
	MerchantName  string  `json:"merchant_name,omitempty"`
	Categories    string  `json:"categories,omitempty"`
	Pending       bool    `json:"pending"`
	Date          string  `json:"date"` // YYYY-MM-DD
}

// ManualAsset is a user-declared asset or liability (real estate, vehicle,
// private note, business interest).
type ManualAsset struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	AssetType       string    `json:"asset_type"`
	Name            string    `json:"name"`
	CurrentValue    float64   `json:"current_value"`
	ValuationSource string    `json:"valuation_source"`
	ValueAsOf       string    `json:"value_as_of"` // YYYY-MM-DD
	Active          bool      `json:"active"`
	Address         string    `json:"address,omitempty"`
	NotePrincipal   *float64  `json:"note_principal,omitempty"`
	NoteRate        *float64  `json:"note_rate,omitempty"` // annual percent
	NoteStartDate   *string   `json:"note_start_date,omitempty"`
	NoteTermMonths  *int      `json:"note_term_months,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasNoteSchedule reports whether the asset carries a complete note schedule
func (a *ManualAsset) HasNoteSchedule() bool {
	return a.NotePrincipal != nil && a.NoteRate != nil &&
		a.NoteStartDate != nil && a.NoteTermMonths != nil && *a.NoteTermMonths > 0
}

// IsIlliquid reports whether the asset counts against liquid net worth
func (a *ManualAsset) IsIlliquid() bool {
	switch a.AssetType {
	case "real_estate", "vehicle", "note_receivable", "note_payable", "business":
		return true
	}
	return false
}

// ValueHistoryEntry is one recorded valuation of a manual asset
type ValueHistoryEntry struct {
	AssetID      string  `json:"asset_id"`
	RecordedDate string  `json:"recorded_date"`
	Value        float64 `json:"value"`
	Source       string  `json:"source"`
}

// NotePayment is one recorded payment against a note asset
type NotePayment struct {
	ID           string  `json:"id"`
	AssetID      string  `json:"asset_id"`
	PaymentDate  string  `json:"payment_date"`
	Amount       float64 `json:"amount"`
	Principal    float64 `json:"principal"`
	Interest     float64 `json:"interest"`
	BalanceAfter float64 `json:"balance_after"`
}

// InsurancePolicy is a user-declared insurance policy
type InsurancePolicy struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	PolicyType       string    `json:"policy_type"`
	Provider         string    `json:"provider"`
	CoverageAmount   float64   `json:"coverage_amount"`
	Premium          float64   `json:"premium"`
	PremiumFrequency string    `json:"premium_frequency"`
	RenewalDate      string    `json:"renewal_date"`
	Notes            string    `json:"notes"`
	CreatedAt        time.Time `json:"created_at"`
}

// NetWorthSnapshot is the per-user daily aggregate
type NetWorthSnapshot struct {
	UserID           string             `json:"user_id"`
	SnapshotDate     string             `json:"snapshot_date"` // YYYY-MM-DD
	TotalAssets      float64            `json:"total_assets"`
	TotalLiabilities float64            `json:"total_liabilities"`
	NetWorth         float64            `json:"net_worth"`
	Breakdown        map[string]float64 `json:"breakdown"`
	CreatedAt        time.Time          `json:"created_at"`
}

// SyncLog is one row per sync attempt
type SyncLog struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id,omitempty"`
	Institution       string     `json:"institution"`
	Method            string     `json:"method"` // ofx | aggregator | upload
	Status            string     `json:"status"` // running | success | error
	TransactionsAdded int        `json:"transactions_added"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// MonthlyInsight is the per-user per-month spending aggregate
type MonthlyInsight struct {
	UserID         string             `json:"user_id"`
	Year           int                `json:"year"`
	Month          int                `json:"month"`
	Income         float64            `json:"income"`
	Expenses       float64            `json:"expenses"`
	SavingsRate    float64            `json:"savings_rate"`
	CategoryTotals map[string]float64 `json:"category_totals"`
	TopMerchants   []MerchantTotal    `json:"top_merchants"`
}

// MerchantTotal is a merchant with its period spending total
type MerchantTotal struct {
	Merchant string  `json:"merchant"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// DetectedSubscription is a recurring charge identified from merchant history
type DetectedSubscription struct {
	UserID       string    `json:"user_id"`
	Merchant     string    `json:"merchant"`
	Amount       float64   `json:"amount"`
	IntervalDays int       `json:"interval_days"`
	FirstSeen    string    `json:"first_seen"`
	LastSeen     string    `json:"last_seen"`
	DetectedAt   time.Time `json:"detected_at"`
}
