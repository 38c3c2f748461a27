package ports

import (
	"context"

	"github.com/ballotline/ballotline/internal/core/domain"
)

type AdmitOutcome int

const (
	AdmitAccepted AdmitOutcome = iota
	AdmitDuplicate
)

// AcceptedEntry is an AcceptedVote as stored on the accepted-vote topic.
type AcceptedEntry struct {
	Partition int
	Offset    uint64
	Vote      domain.AcceptedVote
}

// PipelineStore holds the dedup stage's and the aggregator's durable
// state: uniqueness records, the accepted-vote topic, aggregate counters
// and the committed consumer offsets. Admit and ApplyCounters are each a
// single atomic commit; that is what makes replay after a crash safe.
type PipelineStore interface {
	// Admit runs the uniqueness check-and-set for one log entry and
	// advances the dedup offset for its partition, atomically. First
	// attempt for the key wins and is appended to the accepted topic;
	// later attempts are recorded as rejected duplicates.
	Admit(ctx context.Context, entry domain.LogEntry) (AdmitOutcome, error)
	DedupOffset(partition int) (uint64, error)

	ReadAccepted(ctx context.Context, partition int, from uint64, max int) ([]AcceptedEntry, error)
	AcceptedWatch(partition int) <-chan struct{}

	// ApplyCounters commits counter increments together with the new
	// aggregator offset for the partition as one unit.
	ApplyCounters(ctx context.Context, partition int, upTo uint64, deltas []domain.CounterDelta) error
	AggregatorOffset(partition int) (uint64, error)

	// LookupAccepted returns the admitted vote for (election, subject),
	// or nil if the pair is unclaimed. Read-only; only Admit writes.
	LookupAccepted(ctx context.Context, electionID, subject string) (*domain.AcceptedVote, error)

	CounterSnapshot(ctx context.Context) (map[domain.CounterKey]int64, error)
	RejectedCount(ctx context.Context, electionID string) (int64, error)

	Close() error
}
