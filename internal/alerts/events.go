// Package alerts evaluates alert rules against events and delivers the
// resulting notifications to the database and the push transport.
package alerts

// EventType enumerates the rule types the engine evaluates
type EventType string

const (
	EventLowBalance        EventType = "low_balance"
	EventLargeTransaction  EventType = "large_transaction"
	EventSyncFailure       EventType = "sync_failure"
	EventNewSubscription   EventType = "new_subscription"
	EventAssetValueChange  EventType = "asset_value_change"
	EventNetWorthMilestone EventType = "net_worth_milestone"
	EventAnomaly           EventType = "anomaly"
)

// Event is something that happened which may match alert rules. UserID may be
// empty for system-wide events; such events match every user's rules.
type Event struct {
	Type        EventType              `json:"type"`
	UserID      string                 `json:"user_id,omitempty"`
	Institution string                 `json:"institution,omitempty"`
	AccountName string                 `json:"account_name,omitempty"`
	Amount      *float64               `json:"amount,omitempty"`
	Balance     *float64               `json:"balance,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Severity is the alert severity ladder
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Priority is the push-transport urgency derived from severity
type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityMax     Priority = "max"
)

// PriorityFor maps a severity to its push priority
func PriorityFor(severity Severity) Priority {
	switch severity {
	case SeverityCritical:
		return PriorityMax
	case SeverityHigh:
		return PriorityHigh
	default:
		return PriorityDefault
	}
}
