package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
)

// Discrepancy is one counter whose published total disagrees with the
// recount from the ledger rows.
type Discrepancy struct {
	Key         domain.CounterKey
	LedgerCount int64
	TotalCount  int64
}

// ReconcileReport is the outcome of one reconciliation pass. Any
// discrepancy is a bug signal; DuplicatePairs above zero is an invariant
// violation and must be escalated, never auto-resolved.
type ReconcileReport struct {
	CheckedAt      time.Time
	CountersSeen   int
	Discrepancies  []Discrepancy
	DuplicatePairs int64
	Healed         bool
}

// ReconcileService replays the ledger's accepted votes into independent
// counts and compares them with the published vote_totals. It is the
// backstop proving the exactly-once property holds.
type ReconcileService struct {
	ledger ports.LedgerRepository
	heal   bool
}

func NewReconcileService(ledger ports.LedgerRepository, heal bool) *ReconcileService {
	return &ReconcileService{
		ledger: ledger,
		heal:   heal,
	}
}

func (s *ReconcileService) Run(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{CheckedAt: time.Now().UTC()}

	recount, err := s.ledger.RecountVotes(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to recount ledger votes: %w", err)
	}
	totals, err := s.ledger.AllTotals(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to fetch published totals: %w", err)
	}

	seen := make(map[domain.CounterKey]bool, len(recount))
	for key, n := range recount {
		seen[key] = true
		if published := totals[key]; published != n {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Key: key, LedgerCount: n, TotalCount: published,
			})
		}
	}
	// Totals with no ledger rows behind them are also discrepancies.
	for key, published := range totals {
		if !seen[key] && published != 0 {
			seen[key] = true
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Key: key, LedgerCount: 0, TotalCount: published,
			})
		}
	}
	report.CountersSeen = len(seen)

	report.DuplicatePairs, err = s.ledger.DuplicatePairs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to check ledger uniqueness: %w", err)
	}

	if s.heal && len(report.Discrepancies) > 0 {
		healed := make(map[domain.CounterKey]int64, len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			healed[d.Key] = recount[d.Key]
		}
		if err := s.ledger.UpsertTotals(ctx, healed); err != nil {
			return report, fmt.Errorf("failed to heal totals: %w", err)
		}
		report.Healed = true
	}

	return report, nil
}
