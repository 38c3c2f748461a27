package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(t *testing.T, ledger *fakeLedger, election string, votes map[string]int) {
	ctx := context.Background()
	for candidate, n := range votes {
		batch := make([]domain.AcceptedVote, 0, n)
		for j := 0; j < n; j++ {
			batch = append(batch, domain.AcceptedVote{
				VoteAttempt: domain.VoteAttempt{
					ID:           uuid.New(),
					ElectionID:   election,
					VoterSubject: fmt.Sprintf("%s-voter-%d", candidate, j),
					CandidateID:  candidate,
				},
				AcceptedAt: time.Now().UTC(),
			})
		}
		require.NoError(t, ledger.AppendAccepted(ctx, "test", 0, 0, batch))
	}
}

func TestReconcileCleanLedger(t *testing.T) {
	ledger := newFakeLedger()
	seedLedger(t, ledger, "e1", map[string]int{"A": 3, "B": 2})
	require.NoError(t, ledger.UpsertTotals(context.Background(), map[domain.CounterKey]int64{
		{ElectionID: "e1", CandidateID: "A"}: 3,
		{ElectionID: "e1", CandidateID: "B"}: 2,
	}))

	report, err := NewReconcileService(ledger, false).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, 2, report.CountersSeen)
	assert.Zero(t, report.DuplicatePairs)
	assert.False(t, report.Healed)
}

func TestReconcileDetectsDriftBothWays(t *testing.T) {
	ledger := newFakeLedger()
	seedLedger(t, ledger, "e1", map[string]int{"A": 3})
	// Published totals drifted: A is under-counted, C has no rows at all.
	require.NoError(t, ledger.UpsertTotals(context.Background(), map[domain.CounterKey]int64{
		{ElectionID: "e1", CandidateID: "A"}: 2,
		{ElectionID: "e1", CandidateID: "C"}: 5,
	}))

	report, err := NewReconcileService(ledger, false).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 2)

	byKey := map[domain.CounterKey]Discrepancy{}
	for _, d := range report.Discrepancies {
		byKey[d.Key] = d
	}
	a := byKey[domain.CounterKey{ElectionID: "e1", CandidateID: "A"}]
	assert.Equal(t, int64(3), a.LedgerCount)
	assert.Equal(t, int64(2), a.TotalCount)
	c := byKey[domain.CounterKey{ElectionID: "e1", CandidateID: "C"}]
	assert.Equal(t, int64(0), c.LedgerCount)
	assert.Equal(t, int64(5), c.TotalCount)
}

func TestReconcileHealsFromLedger(t *testing.T) {
	ledger := newFakeLedger()
	seedLedger(t, ledger, "e1", map[string]int{"A": 4})
	require.NoError(t, ledger.UpsertTotals(context.Background(), map[domain.CounterKey]int64{
		{ElectionID: "e1", CandidateID: "A"}: 1,
	}))

	report, err := NewReconcileService(ledger, true).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healed)

	totals, err := ledger.GetTotals(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), totals["A"])

	// A second pass over the healed state is clean.
	report, err = NewReconcileService(ledger, true).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
	assert.False(t, report.Healed)
}
