package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	pipelinebolt "github.com/ballotline/ballotline/internal/adapters/pipeline/bolt"
	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccepted(t *testing.T, store *pipelinebolt.Store, election string, votes map[string]int) int {
	ctx := context.Background()
	offset := uint64(0)
	total := 0
	i := 0
	for candidate, n := range votes {
		for j := 0; j < n; j++ {
			offset++
			entry := domain.LogEntry{
				Partition: 0,
				Offset:    offset,
				Attempt: domain.VoteAttempt{
					ID:           uuid.New(),
					ElectionID:   election,
					VoterSubject: fmt.Sprintf("voter-%d-%d", i, j),
					CandidateID:  candidate,
					SubmittedAt:  time.Now().UTC(),
				},
			}
			_, err := store.Admit(ctx, entry)
			require.NoError(t, err)
			total++
		}
		i++
	}
	return total
}

func newAggregator(store *pipelinebolt.Store, cache *fakeCache, ledger *fakeLedger) *AggregatorService {
	s := NewAggregatorService(store, cache, ledger)
	s.snapshotEvery = 50 * time.Millisecond
	s.pollEvery = 20 * time.Millisecond
	return s
}

func runAggregator(t *testing.T, s *AggregatorService) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 1)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("aggregator did not stop")
		}
	}
}

func TestAggregatorCountsAcceptedVotes(t *testing.T) {
	_, store := openStores(t)
	cache := newFakeCache()
	ledger := newFakeLedger()

	total := seedAccepted(t, store, "e1", map[string]int{"A": 5, "B": 3, "C": 2})

	stop := runAggregator(t, newAggregator(store, cache, ledger))
	defer stop()

	require.Eventually(t, func() bool {
		snapshot, err := store.CounterSnapshot(context.Background())
		if err != nil {
			return false
		}
		sum := int64(0)
		for _, n := range snapshot {
			sum += n
		}
		return sum == int64(total)
	}, 10*time.Second, 20*time.Millisecond)

	snapshot, err := store.CounterSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), snapshot[domain.CounterKey{ElectionID: "e1", CandidateID: "A"}])
	assert.Equal(t, int64(3), snapshot[domain.CounterKey{ElectionID: "e1", CandidateID: "B"}])
	assert.Equal(t, int64(2), snapshot[domain.CounterKey{ElectionID: "e1", CandidateID: "C"}])

	// Deltas reached the cache and votes were streamed into the ledger.
	require.Eventually(t, func() bool {
		counts, err := cache.GetCounts(context.Background(), "e1")
		if err != nil {
			return false
		}
		return counts["A"] == 5 && counts["B"] == 3 && counts["C"] == 2
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return ledger.rowCount() == total
	}, 10*time.Second, 20*time.Millisecond)

	// Totals snapshots land in the ledger too.
	require.Eventually(t, func() bool {
		totals, err := ledger.GetTotals(context.Background(), "e1")
		if err != nil {
			return false
		}
		return totals["A"] == 5 && totals["B"] == 3 && totals["C"] == 2
	}, 10*time.Second, 20*time.Millisecond)
}

func TestAggregatorRestartNeverDoubleCounts(t *testing.T) {
	_, store := openStores(t)
	cache := newFakeCache()
	ledger := newFakeLedger()

	seedAccepted(t, store, "e1", map[string]int{"A": 10})

	stop := runAggregator(t, newAggregator(store, cache, ledger))
	require.Eventually(t, func() bool {
		snapshot, err := store.CounterSnapshot(context.Background())
		if err != nil {
			return false
		}
		return snapshot[domain.CounterKey{ElectionID: "e1", CandidateID: "A"}] == 10
	}, 10*time.Second, 20*time.Millisecond)
	stop()

	// Restart over the same durable state: committed offsets keep the
	// replay from applying anything twice.
	stop = runAggregator(t, newAggregator(store, cache, ledger))
	defer stop()
	time.Sleep(300 * time.Millisecond)

	snapshot, err := store.CounterSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), snapshot[domain.CounterKey{ElectionID: "e1", CandidateID: "A"}])
	assert.Equal(t, 10, ledger.rowCount())
}
