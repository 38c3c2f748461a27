package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
)

const ledgerConsumer = "ledger"

// AggregatorService consumes accepted votes and maintains the per
// (election, candidate) counters. Each batch commits its counter deltas
// and the consumed offset as one atomic unit, so a crash between batches
// never double-counts and never loses a committed count. Per partition it
// also streams accepted votes into the ledger (offset committed in the
// same SQL transaction) and periodically snapshots counters into the
// vote_totals table.
type AggregatorService struct {
	store  ports.PipelineStore
	cache  ports.CountCache
	ledger ports.LedgerRepository

	batchSize     int
	pollEvery     time.Duration
	snapshotEvery time.Duration
}

func NewAggregatorService(store ports.PipelineStore, cache ports.CountCache, ledger ports.LedgerRepository) *AggregatorService {
	return &AggregatorService{
		store:         store,
		cache:         cache,
		ledger:        ledger,
		batchSize:     256,
		pollEvery:     250 * time.Millisecond,
		snapshotEvery: 2 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (s *AggregatorService) Run(ctx context.Context, partitions int) {
	var wg sync.WaitGroup
	for p := 0; p < partitions; p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			s.runCounters(ctx, partition)
		}(p)
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			s.runLedgerStream(ctx, partition)
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runSnapshots(ctx)
	}()
	wg.Wait()
}

func (s *AggregatorService) runCounters(ctx context.Context, partition int) {
	for {
		if ctx.Err() != nil {
			return
		}

		committed, err := s.store.AggregatorOffset(partition)
		if err != nil {
			log.Printf("aggregator[%d]: read offset: %v", partition, err)
			s.wait(ctx, partition)
			continue
		}

		entries, err := s.store.ReadAccepted(ctx, partition, committed+1, s.batchSize)
		if err != nil {
			log.Printf("aggregator[%d]: read accepted: %v", partition, err)
			s.wait(ctx, partition)
			continue
		}
		if len(entries) == 0 {
			s.wait(ctx, partition)
			continue
		}

		deltas := collapseDeltas(entries)
		upTo := entries[len(entries)-1].Offset
		if err := s.store.ApplyCounters(ctx, partition, upTo, deltas); err != nil {
			log.Printf("aggregator[%d]: apply batch up to %d: %v", partition, upTo, err)
			s.wait(ctx, partition)
			continue
		}

		// Cache deltas are pushed after the durable commit. The cache is
		// not authoritative, so a failed push only widens staleness until
		// the next snapshot rebuild.
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		if err := backoff.Retry(func() error {
			return s.cache.ApplyDeltas(ctx, deltas)
		}, policy); err != nil {
			log.Printf("aggregator[%d]: cache deltas: %v", partition, err)
		}
	}
}

// collapseDeltas merges one increment per accepted vote into one delta per
// (election, candidate) pair, preserving first-seen order.
func collapseDeltas(entries []ports.AcceptedEntry) []domain.CounterDelta {
	index := make(map[domain.CounterKey]int, len(entries))
	var deltas []domain.CounterDelta
	for _, e := range entries {
		key := domain.CounterKey{ElectionID: e.Vote.ElectionID, CandidateID: e.Vote.CandidateID}
		if i, ok := index[key]; ok {
			deltas[i].Delta++
			continue
		}
		index[key] = len(deltas)
		deltas = append(deltas, domain.CounterDelta{
			ElectionID:  key.ElectionID,
			CandidateID: key.CandidateID,
			Delta:       1,
		})
	}
	return deltas
}

func (s *AggregatorService) runLedgerStream(ctx context.Context, partition int) {
	for {
		if ctx.Err() != nil {
			return
		}

		committed, err := s.ledger.StreamOffset(ctx, ledgerConsumer, partition)
		if err != nil {
			log.Printf("ledger[%d]: read offset: %v", partition, err)
			s.wait(ctx, partition)
			continue
		}

		entries, err := s.store.ReadAccepted(ctx, partition, committed+1, s.batchSize)
		if err != nil {
			log.Printf("ledger[%d]: read accepted: %v", partition, err)
			s.wait(ctx, partition)
			continue
		}
		if len(entries) == 0 {
			s.wait(ctx, partition)
			continue
		}

		votes := make([]domain.AcceptedVote, len(entries))
		for i, e := range entries {
			votes[i] = e.Vote
		}
		upTo := entries[len(entries)-1].Offset
		if err := s.ledger.AppendAccepted(ctx, ledgerConsumer, partition, upTo, votes); err != nil {
			log.Printf("ledger[%d]: append up to %d: %v", partition, upTo, err)
			s.wait(ctx, partition)
		}
	}
}

func (s *AggregatorService) runSnapshots(ctx context.Context) {
	ticker := time.NewTicker(s.snapshotEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := s.store.CounterSnapshot(ctx)
			if err != nil {
				log.Printf("aggregator: counter snapshot: %v", err)
				continue
			}
			if len(snapshot) == 0 {
				continue
			}
			if err := s.ledger.UpsertTotals(ctx, snapshot); err != nil {
				log.Printf("aggregator: upsert totals: %v", err)
			}
		}
	}
}

func (s *AggregatorService) wait(ctx context.Context, partition int) {
	select {
	case <-ctx.Done():
	case <-s.store.AcceptedWatch(partition):
	case <-time.After(s.pollEvery):
	}
}
