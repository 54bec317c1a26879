package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Payload is a fully-rendered alert ready for delivery
type Payload struct {
	UserID   string
	RuleType EventType
	Severity Severity
	Priority Priority
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Engine matches events against user rules and delivers alerts
type Engine struct {
	repo *Repository
	push *PushClient // nil = push disabled
	log  zerolog.Logger
}

// NewEngine creates a new alert engine
func NewEngine(repo *Repository, push *PushClient, log zerolog.Logger) *Engine {
	return &Engine{
		repo: repo,
		push: push,
		log:  log.With().Str("component", "alert_engine").Logger(),
	}
}

// Evaluate matches the event against every applicable rule and delivers an
// alert per triggered rule. Evaluate is total: failures are logged, never
// raised. Returns the number of alerts delivered.
func (e *Engine) Evaluate(ctx context.Context, event Event) int {
	rules, err := e.repo.MatchingRules(event.Type, event.UserID)
	if err != nil {
		e.log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to load rules for event")
		return 0
	}

	delivered := 0
	for _, rule := range rules {
		payload, triggered := BuildPayload(rule, event)
		if !triggered {
			continue
		}
		e.CreateAlert(ctx, payload, rule.NotifyPush)
		delivered++
	}
	return delivered
}

// BuildPayload applies the rule's predicate to the event and renders the
// alert payload. Evaluation is deterministic: the same (rule, event) pair
// always yields the same payload. Trigger boundaries are strict; threshold
// equality does not trigger.
func BuildPayload(rule Rule, event Event) (Payload, bool) {
	payload := Payload{
		UserID:   rule.UserID,
		RuleType: rule.RuleType,
		Severity: rule.Severity,
		Metadata: event.Metadata,
	}

	switch rule.RuleType {
	case EventLowBalance:
		if event.Balance == nil || rule.Threshold == nil || *event.Balance >= *rule.Threshold {
			return Payload{}, false
		}
		payload.Severity = SeverityHigh
		payload.Title = "⚠️ Low Balance Alert"
		payload.Message = fmt.Sprintf("%s: $%.2f (below $%g)", event.AccountName, *event.Balance, *rule.Threshold)

	case EventLargeTransaction:
		if event.Amount == nil || rule.Threshold == nil {
			return Payload{}, false
		}
		amount := *event.Amount
		if amount < 0 {
			amount = -amount
		}
		if amount <= *rule.Threshold {
			return Payload{}, false
		}
		payload.Severity = SeverityMedium
		payload.Title = "💸 Large Transaction"
		payload.Message = fmt.Sprintf("$%.2f: %s", amount, event.Description)

	case EventSyncFailure:
		payload.Severity = SeverityCritical
		payload.Title = "🔴 Sync Failed"
		payload.Message = fmt.Sprintf("%s: %s", event.Institution, event.Description)

	case EventNewSubscription:
		payload.Title = "🔔 New Subscription Detected"
		amount := "?"
		if event.Amount != nil {
			amount = fmt.Sprintf("%.2f", *event.Amount)
		}
		payload.Message = fmt.Sprintf("%s: $%s/mo", event.Description, amount)

	case EventAssetValueChange:
		payload.Title = "🏠 Property Value Update"
		payload.Message = event.Description

	case EventNetWorthMilestone:
		payload.Title = "🎯 Net Worth Milestone!"
		payload.Message = event.Description

	case EventAnomaly:
		payload.Title = "🚨 Unusual Transaction"
		payload.Message = event.Description

	default:
		return Payload{}, false
	}

	payload.Priority = PriorityFor(payload.Severity)
	return payload, true
}

// CreateAlert writes the alert to history and, when requested, pushes it.
// Both deliveries are independently best-effort: the push is attempted even
// when the database write fails.
func (e *Engine) CreateAlert(ctx context.Context, payload Payload, sendPush bool) {
	entry := &HistoryEntry{
		UserID:   payload.UserID,
		RuleType: payload.RuleType,
		Severity: payload.Severity,
		Title:    payload.Title,
		Message:  payload.Message,
		Metadata: payload.Metadata,
		SentAt:   time.Now().UTC(),
	}
	if err := e.repo.SaveHistory(entry); err != nil {
		e.log.Error().Err(err).Str("type", string(payload.RuleType)).Msg("Failed to persist alert")
	}

	if sendPush && e.push != nil {
		tags := []string{"moneta", string(payload.RuleType)}
		if err := e.push.Send(ctx, payload.Title, payload.Message, payload.Priority, tags); err != nil {
			e.log.Warn().Err(err).Str("type", string(payload.RuleType)).Msg("Push delivery failed")
		}
	}
}
