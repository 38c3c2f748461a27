package ports

import (
	"context"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/google/uuid"
)

type CastVoteInput struct {
	ElectionID  string
	CandidateID string
	Subject     string
	RequestID   string
}

type CastVoteResult struct {
	VoteID uuid.UUID
	// Status is "queued" until dedup commits a decision; the client
	// observes the final outcome via the status read path.
	Status string
}

type IngestService interface {
	CastVote(ctx context.Context, input CastVoteInput) (CastVoteResult, error)
}

type ResultsService interface {
	GetCounts(ctx context.Context, electionID string) (domain.ElectionCounts, error)
	GetVoteStatus(ctx context.Context, electionID, subject string) (domain.VoteStatus, *domain.AcceptedVote, error)
}
