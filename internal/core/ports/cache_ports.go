package ports

import (
	"context"

	"github.com/ballotline/ballotline/internal/core/domain"
)

// CountCache is the low-latency mirror of aggregate counts. It is not
// authoritative; on loss it is rebuilt from the ledger.
type CountCache interface {
	ApplyDeltas(ctx context.Context, deltas []domain.CounterDelta) error
	// GetCounts returns domain.ErrNotFound when the election has no
	// cached hash (empty or flushed cache).
	GetCounts(ctx context.Context, electionID string) (map[string]int64, error)
	SetCounts(ctx context.Context, electionID string, counts map[string]int64) error
}
