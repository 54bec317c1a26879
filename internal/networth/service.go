package networth

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/aggregator"
	"github.com/aristath/moneta/internal/alerts"
	"github.com/aristath/moneta/internal/amortization"
	"github.com/aristath/moneta/internal/assets"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/ledger"
)

// milestoneStep is the net-worth milestone granularity
const milestoneStep = 50_000.0

// Service aggregates ledger balances and manual assets into daily snapshots
// and fires milestone events when net worth crosses a 50k boundary.
type Service struct {
	repo    *Repository
	assets  *assets.Repository
	sources *aggregator.Repository
	bridge  *ledger.Adapter // nil = ledger unavailable
	events  *alerts.Engine
	log     zerolog.Logger
}

// NewService creates a new net-worth service
func NewService(
	repo *Repository,
	assetsRepo *assets.Repository,
	sources *aggregator.Repository,
	bridge *ledger.Adapter,
	events *alerts.Engine,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:    repo,
		assets:  assetsRepo,
		sources: sources,
		bridge:  bridge,
		events:  events,
		log:     log.With().Str("component", "networth").Logger(),
	}
}

// Snapshot computes and stores today's snapshot for one user. Partial
// failures (ledger unreachable, a note that will not amortize) degrade the
// snapshot rather than failing it; only the final DB write can error.
func (s *Service) Snapshot(ctx context.Context, userID string) (*domain.NetWorthSnapshot, error) {
	today := time.Now().Format("2006-01-02")
	breakdown := make(map[string]float64)
	totalAssets := 0.0
	totalLiabilities := 0.0

	// Ledger accounts
	if s.bridge != nil {
		accounts, err := s.bridge.ListAccounts(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("Ledger unavailable for snapshot, using manual assets only")
		} else {
			for _, acct := range accounts {
				if acct.Type == "liabilities" || acct.Type == "expense" {
					totalLiabilities += math.Abs(acct.Balance)
					breakdown[acct.Name] = -math.Abs(acct.Balance)
				} else {
					totalAssets += acct.Balance
					breakdown[acct.Name] = acct.Balance
				}
			}
		}
	}

	// Manual assets; note balances are recomputed from their schedule and
	// persisted back so the stored value tracks amortization.
	manualAssets, err := s.assets.ListActive(userID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load manual assets for snapshot")
	}
	for _, asset := range manualAssets {
		value := asset.CurrentValue
		if isNote(asset.AssetType) && asset.HasNoteSchedule() {
			if recomputed, ok := s.noteBalance(&asset); ok {
				value = recomputed
				if err := s.assets.UpdateValue(asset.ID, value, "amortization", today); err != nil {
					s.log.Warn().Err(err).Str("asset", asset.ID).Msg("Failed to persist note balance")
				}
			}
		}

		if asset.AssetType == "note_payable" {
			totalLiabilities += value
			breakdown[assetLabel(asset)] = -value
		} else {
			totalAssets += value
			breakdown[assetLabel(asset)] = value
		}
	}

	income, expenses := s.monthlyFlows(userID)
	breakdown["monthlyIncome"] = round2(income)
	breakdown["monthlyExpenses"] = round2(expenses)

	snap := &domain.NetWorthSnapshot{
		UserID:           userID,
		SnapshotDate:     today,
		TotalAssets:      round2(totalAssets),
		TotalLiabilities: round2(totalLiabilities),
		NetWorth:         round2(totalAssets - totalLiabilities),
		Breakdown:        breakdown,
	}
	if err := s.repo.Save(snap); err != nil {
		return nil, err
	}

	s.checkMilestone(ctx, userID, snap.NetWorth)
	return snap, nil
}

// noteBalance recomputes the outstanding balance of a note asset
func (s *Service) noteBalance(asset *domain.ManualAsset) (float64, bool) {
	start, err := time.Parse("2006-01-02", *asset.NoteStartDate)
	if err != nil {
		s.log.Warn().Str("asset", asset.ID).Str("start", *asset.NoteStartDate).Msg("Bad note start date")
		return 0, false
	}
	result, err := amortization.Compute(amortization.Input{
		Principal:  *asset.NotePrincipal,
		AnnualRate: *asset.NoteRate,
		TermMonths: *asset.NoteTermMonths,
		StartDate:  start,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("asset", asset.ID).Msg("Note amortization failed")
		return 0, false
	}
	return result.CurrentBalance, true
}

// monthlyFlows sums the current month's income and expenses from mirrored
// source transactions. The aggregator records money out as positive.
func (s *Service) monthlyFlows(userID string) (income, expenses float64) {
	now := time.Now()
	txns, err := s.sources.TransactionsForMonth(userID, now.Year(), int(now.Month()))
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load month transactions")
		return 0, 0
	}
	for _, txn := range txns {
		if txn.Amount < 0 {
			income += -txn.Amount
		} else {
			expenses += txn.Amount
		}
	}
	return income, expenses
}

// checkMilestone fires a net_worth_milestone event when this snapshot
// crossed a 50k boundary the previous snapshot was below.
func (s *Service) checkMilestone(ctx context.Context, userID string, netWorth float64) {
	prev, err := s.repo.Latest(userID, 1)
	if err != nil {
		// First snapshot ever: nothing to cross from
		return
	}

	milestone := math.Floor(netWorth/milestoneStep) * milestoneStep
	if milestone <= 0 || prev.NetWorth >= milestone || milestone > netWorth {
		return
	}

	s.events.Evaluate(ctx, alerts.Event{
		Type:        alerts.EventNetWorthMilestone,
		UserID:      userID,
		Description: formatMilestone(milestone, netWorth),
		Metadata: map[string]interface{}{
			"milestone": milestone,
			"netWorth":  netWorth,
		},
	})
}

func formatMilestone(milestone, netWorth float64) string {
	return fmt.Sprintf("Net worth crossed $%s (now $%s)",
		formatThousands(milestone), formatThousands(netWorth))
}

// formatThousands renders 1234567.89 as "1,234,568"
func formatThousands(v float64) string {
	s := strconv.FormatInt(int64(math.Round(math.Abs(v))), 10)
	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func isNote(assetType string) bool {
	return assetType == "note_receivable" || assetType == "note_payable"
}

func assetLabel(asset domain.ManualAsset) string {
	if asset.Name != "" {
		return asset.Name
	}
	return asset.AssetType + ":" + asset.ID
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
