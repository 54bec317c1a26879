package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Rule is a user-configured alert rule
type Rule struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RuleType   EventType `json:"rule_type"`
	Threshold  *float64  `json:"threshold,omitempty"`
	Filter     string    `json:"filter,omitempty"`
	Severity   Severity  `json:"severity"`
	Enabled    bool      `json:"enabled"`
	NotifyPush bool      `json:"notify_push"`
}

// HistoryEntry is one delivered alert
type HistoryEntry struct {
	ID       string                 `json:"id"`
	UserID   string                 `json:"user_id"`
	RuleType EventType              `json:"rule_type"`
	Severity Severity               `json:"severity"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	SentAt   time.Time              `json:"sent_at"`
	ReadAt   *time.Time             `json:"read_at,omitempty"`
}

// Repository persists alert rules and history
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alerts repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

const ruleColumns = `id, user_id, rule_type, threshold, filter, severity, enabled, notify_push`

// MatchingRules loads the enabled rules for an event: rule_type equals the
// event type, and the rule belongs to the event's user (or the event is
// user-less, in which case every user's rules match).
func (r *Repository) MatchingRules(eventType EventType, userID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE rule_type = ? AND enabled = 1`
	args := []interface{}{string(eventType)}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListRules returns every rule for a user
func (r *Repository) ListRules(userID string) ([]Rule, error) {
	rows, err := r.db.Query(
		`SELECT `+ruleColumns+` FROM alert_rules WHERE user_id = ? ORDER BY rule_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateRule inserts a new rule and populates its id
func (r *Repository) CreateRule(rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := r.db.Exec(
		`INSERT INTO alert_rules (id, user_id, rule_type, threshold, filter, severity, enabled, notify_push, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, string(rule.RuleType), nullFloat(rule.Threshold), rule.Filter,
		string(rule.Severity), boolToInt(rule.Enabled), boolToInt(rule.NotifyPush), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// UpdateRule updates a rule scoped to its owner
func (r *Repository) UpdateRule(rule *Rule) error {
	res, err := r.db.Exec(
		`UPDATE alert_rules SET threshold = ?, filter = ?, severity = ?, enabled = ?, notify_push = ?
		 WHERE id = ? AND user_id = ?`,
		nullFloat(rule.Threshold), rule.Filter, string(rule.Severity),
		boolToInt(rule.Enabled), boolToInt(rule.NotifyPush), rule.ID, rule.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	return requireRow(res)
}

// DeleteRule removes a rule scoped to its owner
func (r *Repository) DeleteRule(id, userID string) error {
	res, err := r.db.Exec(`DELETE FROM alert_rules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	return requireRow(res)
}

// SaveHistory writes one alert history row
func (r *Repository) SaveHistory(entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = r.db.Exec(
		`INSERT INTO alert_history (id, user_id, rule_type, severity, title, message, metadata, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, string(entry.RuleType), string(entry.Severity),
		entry.Title, entry.Message, string(metadata), entry.SentAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert history: %w", err)
	}
	return nil
}

// HistoryFilter narrows a history listing
type HistoryFilter struct {
	UnreadOnly bool
	Severity   string
	Limit      int
}

// ListHistory returns alert history for a user, newest first
func (r *Repository) ListHistory(userID string, filter HistoryFilter) ([]HistoryEntry, error) {
	query := `SELECT id, user_id, rule_type, severity, title, message, metadata, sent_at, read_at
	          FROM alert_history WHERE user_id = ?`
	args := []interface{}{userID}
	if filter.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	query += ` ORDER BY sent_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var metadata string
		var sentAt int64
		var readAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.UserID, &e.RuleType, &e.Severity, &e.Title, &e.Message, &metadata, &sentAt, &readAt); err != nil {
			return nil, err
		}
		e.SentAt = time.Unix(sentAt, 0).UTC()
		if readAt.Valid {
			t := time.Unix(readAt.Int64, 0).UTC()
			e.ReadAt = &t
		}
		_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UnreadCount returns the number of unread alerts for a user
func (r *Repository) UnreadCount(userID string) (int, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM alert_history WHERE user_id = ? AND read_at IS NULL`, userID,
	).Scan(&count)
	return count, err
}

// MarkRead marks one alert as read, scoped to its owner
func (r *Repository) MarkRead(id, userID string) error {
	res, err := r.db.Exec(
		`UPDATE alert_history SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		time.Now().Unix(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	return requireRow(res)
}

// DeleteHistory removes one alert, scoped to its owner
func (r *Repository) DeleteHistory(id, userID string) error {
	res, err := r.db.Exec(`DELETE FROM alert_history WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return requireRow(res)
}

// ErrNotFound is returned when a scoped lookup matches no rows
var ErrNotFound = sql.ErrNoRows

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRule(rows *sql.Rows) (Rule, error) {
	var rule Rule
	var threshold sql.NullFloat64
	var enabled, notifyPush int
	if err := rows.Scan(&rule.ID, &rule.UserID, &rule.RuleType, &threshold, &rule.Filter, &rule.Severity, &enabled, &notifyPush); err != nil {
		return Rule{}, err
	}
	if threshold.Valid {
		rule.Threshold = &threshold.Float64
	}
	rule.Enabled = enabled != 0
	rule.NotifyPush = notifyPush != 0
	return rule, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
