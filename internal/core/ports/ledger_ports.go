package ports

import (
	"context"

	"github.com/ballotline/ballotline/internal/core/domain"
)

// LedgerRepository is the durable, queryable system-of-record mirror of
// accepted votes and aggregate counters.
type LedgerRepository interface {
	// StreamOffset returns the last accepted-topic offset committed into
	// the ledger for a (consumer, partition) pair; 0 when none.
	StreamOffset(ctx context.Context, consumer string, partition int) (uint64, error)
	// AppendAccepted inserts accepted votes and commits the new offset in
	// one SQL transaction. Inserts are idempotent on (election, subject).
	AppendAccepted(ctx context.Context, consumer string, partition int, upTo uint64, votes []domain.AcceptedVote) error

	UpsertTotals(ctx context.Context, totals map[domain.CounterKey]int64) error
	GetTotals(ctx context.Context, electionID string) (map[string]int64, error)
	AllTotals(ctx context.Context) (map[domain.CounterKey]int64, error)

	// RecountVotes recomputes per-candidate counts from the ledger rows,
	// independently of the aggregator.
	RecountVotes(ctx context.Context) (map[domain.CounterKey]int64, error)
	// DuplicatePairs counts ledger rows violating the one-vote-per-pair
	// uniqueness. Anything above zero is an invariant violation.
	DuplicatePairs(ctx context.Context) (int64, error)
}
