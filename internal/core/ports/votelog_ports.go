package ports

import (
	"context"

	"github.com/ballotline/ballotline/internal/core/domain"
)

// AppendResult reports where an attempt landed in the log. Duplicate is
// true when producer-side dedup collapsed a retry onto an earlier entry;
// in that case Partition/Offset refer to the original entry.
type AppendResult struct {
	Partition int
	Offset    uint64
	Duplicate bool
}

// AppendLog is the durable, partitioned, ordered record of every vote
// attempt. All attempts for one (election, subject) land on one partition
// in submission order.
type AppendLog interface {
	Append(ctx context.Context, attempt domain.VoteAttempt) (AppendResult, error)
	Read(ctx context.Context, partition int, from uint64, max int) ([]domain.LogEntry, error)
	// HasAttempt reports whether any attempt for (election, subject) was
	// ever appended; used by the status read path to tell "pending"
	// from "never voted".
	HasAttempt(ctx context.Context, electionID, subject string) (bool, error)
	Partitions() int

	// Watch returns a channel that is closed when new entries may be
	// available on the partition. Consumers re-acquire it after each wakeup.
	Watch(partition int) <-chan struct{}
}
