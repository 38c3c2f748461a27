package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
)

type resultsService struct {
	cache    ports.CountCache
	ledger   ports.LedgerRepository
	log      ports.AppendLog
	pipeline ports.PipelineStore
}

func NewResultsService(cache ports.CountCache, ledger ports.LedgerRepository, appendLog ports.AppendLog, pipeline ports.PipelineStore) ports.ResultsService {
	return &resultsService{
		cache:    cache,
		ledger:   ledger,
		log:      appendLog,
		pipeline: pipeline,
	}
}

// GetCounts serves from the hot-count cache and falls back to the ledger
// when the cache has no hash for the election (flushed or never warmed),
// repopulating the cache from the ledger totals on the way out.
func (s *resultsService) GetCounts(ctx context.Context, electionID string) (domain.ElectionCounts, error) {
	counts, err := s.cache.GetCounts(ctx, electionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("results: cache read for %s failed, using ledger: %v", electionID, err)
		}
		counts, err = s.ledger.GetTotals(ctx, electionID)
		if err != nil {
			return domain.ElectionCounts{}, fmt.Errorf("failed to fetch totals for %s: %w", electionID, err)
		}
		if len(counts) > 0 {
			if err := s.cache.SetCounts(ctx, electionID, counts); err != nil {
				log.Printf("results: cache rebuild for %s failed: %v", electionID, err)
			}
		}
	}

	result := domain.ElectionCounts{ElectionID: electionID, Counts: counts}
	for _, n := range counts {
		result.Total += n
	}
	if result.Counts == nil {
		result.Counts = map[string]int64{}
	}
	return result, nil
}

// GetVoteStatus is the poll path by which a client learns the final
// admission decision for its queued vote.
func (s *resultsService) GetVoteStatus(ctx context.Context, electionID, subject string) (domain.VoteStatus, *domain.AcceptedVote, error) {
	vote, err := s.pipeline.LookupAccepted(ctx, electionID, subject)
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up vote status: %w", err)
	}
	if vote != nil {
		return domain.VoteStatusAccepted, vote, nil
	}

	queued, err := s.log.HasAttempt(ctx, electionID, subject)
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up queued attempt: %w", err)
	}
	if queued {
		return domain.VoteStatusPending, nil, nil
	}
	return domain.VoteStatusNone, nil, nil
}
