package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
)

type fakeCache struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{counts: map[string]map[string]int64{}}
}

func (c *fakeCache) ApplyDeltas(ctx context.Context, deltas []domain.CounterDelta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range deltas {
		if c.counts[d.ElectionID] == nil {
			c.counts[d.ElectionID] = map[string]int64{}
		}
		c.counts[d.ElectionID][d.CandidateID] += d.Delta
	}
	return nil
}

func (c *fakeCache) GetCounts(ctx context.Context, electionID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts, ok := c.counts[electionID]
	if !ok || len(counts) == 0 {
		return nil, domain.ErrNotFound
	}
	out := make(map[string]int64, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out, nil
}

func (c *fakeCache) SetCounts(ctx context.Context, electionID string, counts map[string]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make(map[string]int64, len(counts))
	for k, v := range counts {
		copied[k] = v
	}
	c.counts[electionID] = copied
	return nil
}

func (c *fakeCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = map[string]map[string]int64{}
}

type ledgerRow struct {
	vote domain.AcceptedVote
}

type fakeLedger struct {
	mu      sync.Mutex
	offsets map[string]uint64
	rows    map[string]ledgerRow // election \x00 subject
	totals  map[domain.CounterKey]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		offsets: map[string]uint64{},
		rows:    map[string]ledgerRow{},
		totals:  map[domain.CounterKey]int64{},
	}
}

var _ ports.LedgerRepository = (*fakeLedger)(nil)

func offsetKey(consumer string, partition int) string {
	return fmt.Sprintf("%s.%d", consumer, partition)
}

func (l *fakeLedger) StreamOffset(ctx context.Context, consumer string, partition int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offsets[offsetKey(consumer, partition)], nil
}

func (l *fakeLedger) AppendAccepted(ctx context.Context, consumer string, partition int, upTo uint64, votes []domain.AcceptedVote) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range votes {
		key := v.ElectionID + "\x00" + v.VoterSubject
		if _, exists := l.rows[key]; !exists {
			l.rows[key] = ledgerRow{vote: v}
		}
	}
	if upTo > l.offsets[offsetKey(consumer, partition)] {
		l.offsets[offsetKey(consumer, partition)] = upTo
	}
	return nil
}

func (l *fakeLedger) UpsertTotals(ctx context.Context, totals map[domain.CounterKey]int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range totals {
		l.totals[k] = v
	}
	return nil
}

func (l *fakeLedger) GetTotals(ctx context.Context, electionID string) (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]int64{}
	for k, v := range l.totals {
		if k.ElectionID == electionID {
			out[k.CandidateID] = v
		}
	}
	return out, nil
}

func (l *fakeLedger) AllTotals(ctx context.Context) (map[domain.CounterKey]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.CounterKey]int64, len(l.totals))
	for k, v := range l.totals {
		out[k] = v
	}
	return out, nil
}

func (l *fakeLedger) RecountVotes(ctx context.Context) (map[domain.CounterKey]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[domain.CounterKey]int64{}
	for _, row := range l.rows {
		key := domain.CounterKey{ElectionID: row.vote.ElectionID, CandidateID: row.vote.CandidateID}
		out[key]++
	}
	return out, nil
}

func (l *fakeLedger) DuplicatePairs(ctx context.Context) (int64, error) {
	return 0, nil
}

func (l *fakeLedger) rowCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}
