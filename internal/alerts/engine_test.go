package alerts

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/moneta/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.NewInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func floatPtr(v float64) *float64 { return &v }

func TestBuildPayload_LowBalance(t *testing.T) {
	rule := Rule{UserID: "u1", RuleType: EventLowBalance, Threshold: floatPtr(100), Severity: SeverityMedium}

	tests := []struct {
		name    string
		balance *float64
		want    bool
	}{
		{"below threshold", floatPtr(49.99), true},
		{"just below", floatPtr(99.99), true},
		{"equal does not trigger", floatPtr(100), false},
		{"above", floatPtr(150), false},
		{"no balance", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, triggered := BuildPayload(rule, Event{
				Type:        EventLowBalance,
				UserID:      "u1",
				AccountName: "Checking",
				Balance:     tt.balance,
			})
			assert.Equal(t, tt.want, triggered)
			if triggered {
				assert.Equal(t, SeverityHigh, payload.Severity)
				assert.Equal(t, PriorityHigh, payload.Priority)
				assert.Contains(t, payload.Message, "Checking")
			}
		})
	}
}

func TestBuildPayload_LargeTransaction(t *testing.T) {
	rule := Rule{UserID: "u1", RuleType: EventLargeTransaction, Threshold: floatPtr(500)}

	tests := []struct {
		name   string
		amount *float64
		want   bool
	}{
		{"equal does not trigger", floatPtr(500), false},
		{"just above", floatPtr(500.01), true},
		{"negative amount uses magnitude", floatPtr(-800), true},
		{"small", floatPtr(20), false},
		{"no amount", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, triggered := BuildPayload(rule, Event{
				Type:        EventLargeTransaction,
				Amount:      tt.amount,
				Description: "WIRE TRANSFER",
			})
			assert.Equal(t, tt.want, triggered)
			if triggered {
				assert.Equal(t, SeverityMedium, payload.Severity)
			}
		})
	}
}

func TestBuildPayload_SyncFailure(t *testing.T) {
	rule := Rule{UserID: "u1", RuleType: EventSyncFailure, Severity: SeverityLow}
	payload, triggered := BuildPayload(rule, Event{
		Type:        EventSyncFailure,
		Institution: "chase",
		Description: "login required",
	})
	require.True(t, triggered)
	assert.Equal(t, SeverityCritical, payload.Severity)
	assert.Equal(t, PriorityMax, payload.Priority)
	assert.Contains(t, payload.Message, "chase")
}

func TestBuildPayload_Deterministic(t *testing.T) {
	rule := Rule{UserID: "u1", RuleType: EventLowBalance, Threshold: floatPtr(100), Severity: SeverityMedium}
	event := Event{Type: EventLowBalance, AccountName: "Savings", Balance: floatPtr(12.34)}

	first, ok1 := BuildPayload(rule, event)
	second, ok2 := BuildPayload(rule, event)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first, second)
}

func TestEngine_Evaluate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	engine := NewEngine(repo, nil, zerolog.Nop())

	require.NoError(t, repo.CreateRule(&Rule{
		UserID:    "u1",
		RuleType:  EventLowBalance,
		Threshold: floatPtr(100),
		Severity:  SeverityMedium,
		Enabled:   true,
	}))
	// Disabled rules never match
	require.NoError(t, repo.CreateRule(&Rule{
		UserID:    "u1",
		RuleType:  EventLowBalance,
		Threshold: floatPtr(1000),
		Severity:  SeverityMedium,
		Enabled:   false,
	}))

	delivered := engine.Evaluate(context.Background(), Event{
		Type:        EventLowBalance,
		UserID:      "u1",
		AccountName: "Checking",
		Balance:     floatPtr(50),
	})
	assert.Equal(t, 1, delivered)

	history, err := repo.ListHistory("u1", HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, EventLowBalance, history[0].RuleType)
	assert.Nil(t, history[0].ReadAt)

	count, err := repo.UnreadCount("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Other users see nothing
	delivered = engine.Evaluate(context.Background(), Event{
		Type:    EventLowBalance,
		UserID:  "u2",
		Balance: floatPtr(50),
	})
	assert.Equal(t, 0, delivered)
}

func TestRepository_RuleLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	rule := &Rule{
		UserID:     "u1",
		RuleType:   EventLargeTransaction,
		Threshold:  floatPtr(500),
		Severity:   SeverityMedium,
		Enabled:    true,
		NotifyPush: true,
	}
	require.NoError(t, repo.CreateRule(rule))
	require.NotEmpty(t, rule.ID)

	rules, err := repo.ListRules("u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].NotifyPush)

	rule.Threshold = floatPtr(750)
	rule.Enabled = false
	require.NoError(t, repo.UpdateRule(rule))

	rules, err = repo.ListRules("u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.InDelta(t, 750, *rules[0].Threshold, 0.001)
	assert.False(t, rules[0].Enabled)

	// Scoped updates reject other owners
	stolen := *rule
	stolen.UserID = "u2"
	assert.ErrorIs(t, repo.UpdateRule(&stolen), ErrNotFound)

	require.NoError(t, repo.DeleteRule(rule.ID, "u1"))
	assert.ErrorIs(t, repo.DeleteRule(rule.ID, "u1"), ErrNotFound)
}

func TestRepository_MarkRead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	engine := NewEngine(repo, nil, zerolog.Nop())

	engine.CreateAlert(context.Background(), Payload{
		UserID:   "u1",
		RuleType: EventAnomaly,
		Severity: SeverityHigh,
		Title:    "Unusual Transaction",
		Message:  "something odd",
	}, false)

	history, err := repo.ListHistory("u1", HistoryFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, history, 1)

	require.NoError(t, repo.MarkRead(history[0].ID, "u1"))
	assert.ErrorIs(t, repo.MarkRead(history[0].ID, "u1"), ErrNotFound)

	unread, err := repo.ListHistory("u1", HistoryFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}
