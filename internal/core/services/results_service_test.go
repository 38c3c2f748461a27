package services

import (
	"context"
	"testing"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCountsFromCache(t *testing.T) {
	voteLog, store := openStores(t)
	cache := newFakeCache()
	ledger := newFakeLedger()
	service := NewResultsService(cache, ledger, voteLog, store)
	ctx := context.Background()

	require.NoError(t, cache.SetCounts(ctx, "e1", map[string]int64{"A": 7, "B": 2}))

	counts, err := service.GetCounts(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", counts.ElectionID)
	assert.Equal(t, int64(9), counts.Total)
	assert.Equal(t, int64(7), counts.Counts["A"])
}

func TestGetCountsFallsBackToLedger(t *testing.T) {
	voteLog, store := openStores(t)
	cache := newFakeCache()
	ledger := newFakeLedger()
	service := NewResultsService(cache, ledger, voteLog, store)
	ctx := context.Background()

	require.NoError(t, ledger.UpsertTotals(ctx, map[domain.CounterKey]int64{
		{ElectionID: "e1", CandidateID: "A"}: 4,
		{ElectionID: "e1", CandidateID: "B"}: 1,
	}))

	counts, err := service.GetCounts(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts.Total)

	// The miss repopulated the cache.
	cached, err := cache.GetCounts(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), cached["A"])
}

func TestGetCountsUnknownElectionIsEmpty(t *testing.T) {
	voteLog, store := openStores(t)
	service := NewResultsService(newFakeCache(), newFakeLedger(), voteLog, store)

	counts, err := service.GetCounts(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
	assert.NotNil(t, counts.Counts)
	assert.Empty(t, counts.Counts)
}

func TestGetVoteStatusTransitions(t *testing.T) {
	voteLog, store := openStores(t)
	service := NewResultsService(newFakeCache(), newFakeLedger(), voteLog, store)
	ctx := context.Background()

	status, vote, err := service.GetVoteStatus(ctx, "e1", "voter-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteStatusNone, status)
	assert.Nil(t, vote)

	attempt := domain.VoteAttempt{
		ID:           uuid.New(),
		ElectionID:   "e1",
		VoterSubject: "voter-1",
		CandidateID:  "A",
		SubmittedAt:  time.Now().UTC(),
	}
	res, err := voteLog.Append(ctx, attempt)
	require.NoError(t, err)

	status, vote, err = service.GetVoteStatus(ctx, "e1", "voter-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteStatusPending, status)
	assert.Nil(t, vote)

	_, err = store.Admit(ctx, domain.LogEntry{Partition: res.Partition, Offset: res.Offset, Attempt: attempt})
	require.NoError(t, err)

	status, vote, err = service.GetVoteStatus(ctx, "e1", "voter-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteStatusAccepted, status)
	require.NotNil(t, vote)
	assert.Equal(t, "A", vote.CandidateID)
}
