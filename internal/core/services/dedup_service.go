package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ballotline/ballotline/internal/core/ports"
)

// DedupService drives the dedup stage: one worker per log partition, each
// consuming its partition strictly in log order. Partitions run fully in
// parallel; uniqueness is scoped per (election, subject) key, which always
// maps to a single partition, so no cross-partition coordination is needed.
type DedupService struct {
	log       ports.AppendLog
	store     ports.PipelineStore
	batchSize int
	pollEvery time.Duration
}

func NewDedupService(appendLog ports.AppendLog, store ports.PipelineStore) *DedupService {
	return &DedupService{
		log:       appendLog,
		store:     store,
		batchSize: 256,
		pollEvery: 250 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (s *DedupService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for p := 0; p < s.log.Partitions(); p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			s.runPartition(ctx, partition)
		}(p)
	}
	wg.Wait()
}

func (s *DedupService) runPartition(ctx context.Context, partition int) {
	for {
		if ctx.Err() != nil {
			return
		}

		committed, err := s.store.DedupOffset(partition)
		if err != nil {
			log.Printf("dedup[%d]: read offset: %v", partition, err)
			s.wait(ctx, partition)
			continue
		}

		entries, err := s.log.Read(ctx, partition, committed+1, s.batchSize)
		if err != nil {
			log.Printf("dedup[%d]: read log: %v", partition, err)
			s.wait(ctx, partition)
			continue
		}
		if len(entries) == 0 {
			s.wait(ctx, partition)
			continue
		}

		for _, entry := range entries {
			outcome, err := s.store.Admit(ctx, entry)
			if err != nil {
				// The offset was not advanced, so the attempt is replayed
				// on the next pass; Admit is idempotent under replay. Back
				// off before that pass so a down store is not hammered.
				log.Printf("dedup[%d]: admit offset %d: %v", partition, entry.Offset, err)
				s.wait(ctx, partition)
				break
			}
			if outcome == ports.AdmitDuplicate {
				log.Printf("dedup[%d]: duplicate rejected: election=%s voter=%s",
					partition, entry.Attempt.ElectionID, entry.Attempt.VoterSubject)
			}
		}
	}
}

// wait blocks until new log entries may be available, the poll interval
// elapses, or ctx is cancelled. The ticker covers appends that raced the
// watch re-acquisition.
func (s *DedupService) wait(ctx context.Context, partition int) {
	select {
	case <-ctx.Done():
	case <-s.log.Watch(partition):
	case <-time.After(s.pollEvery):
	}
}
