package services

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]{1,100}$`)

const appendRetryBudget = 3

type ingestService struct {
	log      ports.AppendLog
	pipeline ports.PipelineStore
}

func NewIngestService(log ports.AppendLog, pipeline ports.PipelineStore) ports.IngestService {
	return &ingestService{
		log:      log,
		pipeline: pipeline,
	}
}

// CastVote validates the request, pre-checks the uniqueness record and
// appends the attempt to the log. The response is "queued": admission is
// decided by the dedup stage, and the client observes the final outcome
// via the status read path. Only the dedup stage writes uniqueness
// records; the lookup here is read-only and exists so an already-admitted
// voter gets a definitive duplicate answer instead of a queued one.
func (s *ingestService) CastVote(ctx context.Context, input ports.CastVoteInput) (ports.CastVoteResult, error) {
	if !idPattern.MatchString(input.ElectionID) {
		return ports.CastVoteResult{}, domain.ErrBadElectionID
	}
	if !idPattern.MatchString(input.CandidateID) {
		return ports.CastVoteResult{}, domain.ErrBadCandidateID
	}

	existing, err := s.pipeline.LookupAccepted(ctx, input.ElectionID, input.Subject)
	if err != nil {
		return ports.CastVoteResult{}, fmt.Errorf("%w: uniqueness lookup: %v", domain.ErrRetryable, err)
	}
	if existing != nil {
		return ports.CastVoteResult{}, domain.ErrDuplicateVote
	}

	attempt := domain.VoteAttempt{
		ID:           uuid.New(),
		ElectionID:   input.ElectionID,
		VoterSubject: input.Subject,
		CandidateID:  input.CandidateID,
		RequestID:    input.RequestID,
		SubmittedAt:  time.Now().UTC(),
	}

	// Append is retried within a bounded budget; on exhaustion the client
	// gets a retryable error and resubmits, which producer-side dedup
	// collapses into the original entry if one was written.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), appendRetryBudget), ctx)
	err = backoff.Retry(func() error {
		var appendErr error
		_, appendErr = s.log.Append(ctx, attempt)
		return appendErr
	}, policy)
	if err != nil {
		return ports.CastVoteResult{}, fmt.Errorf("%w: log append: %v", domain.ErrRetryable, err)
	}

	return ports.CastVoteResult{VoteID: attempt.ID, Status: "queued"}, nil
}
