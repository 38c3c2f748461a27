package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
)

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) ports.LedgerRepository {
	return &ledgerRepository{
		db: db,
	}
}

func (r *ledgerRepository) StreamOffset(ctx context.Context, consumer string, partition int) (uint64, error) {
	query := `SELECT last_offset FROM pipeline_offsets WHERE consumer = $1 AND partition = $2`
	var offset int64
	err := r.db.QueryRowContext(ctx, query, consumer, partition).Scan(&offset)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read stream offset: %w", err)
	}
	return uint64(offset), nil
}

func (r *ledgerRepository) AppendAccepted(ctx context.Context, consumer string, partition int, upTo uint64, votes []domain.AcceptedVote) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO votes_ledger (election_id, voter_subject, candidate_id, voted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (election_id, voter_subject) DO NOTHING;
	`
	for _, v := range votes {
		if _, err := tx.ExecContext(ctx, insert, v.ElectionID, v.VoterSubject, v.CandidateID, v.AcceptedAt); err != nil {
			return fmt.Errorf("failed to insert ledger row: %w", err)
		}
	}

	commitOffset := `
		INSERT INTO pipeline_offsets (consumer, partition, last_offset)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, partition) DO UPDATE
		SET last_offset = GREATEST(pipeline_offsets.last_offset, EXCLUDED.last_offset);
	`
	if _, err := tx.ExecContext(ctx, commitOffset, consumer, partition, int64(upTo)); err != nil {
		return fmt.Errorf("failed to commit stream offset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger tx: %w", err)
	}
	return nil
}

func (r *ledgerRepository) UpsertTotals(ctx context.Context, totals map[domain.CounterKey]int64) error {
	query := `
		INSERT INTO vote_totals (election_id, candidate_id, count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (election_id, candidate_id) DO UPDATE
		SET count = EXCLUDED.count,
		    updated_at = NOW();
	`
	for key, count := range totals {
		if _, err := r.db.ExecContext(ctx, query, key.ElectionID, key.CandidateID, count); err != nil {
			return fmt.Errorf("failed to upsert total for %s/%s: %w", key.ElectionID, key.CandidateID, err)
		}
	}
	return nil
}

func (r *ledgerRepository) GetTotals(ctx context.Context, electionID string) (map[string]int64, error) {
	query := `SELECT candidate_id, count FROM vote_totals WHERE election_id = $1`
	rows, err := r.db.QueryContext(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var candidate string
		var count int64
		if err := rows.Scan(&candidate, &count); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		totals[candidate] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating totals: %w", err)
	}
	return totals, nil
}

func (r *ledgerRepository) AllTotals(ctx context.Context) (map[domain.CounterKey]int64, error) {
	query := `SELECT election_id, candidate_id, count FROM vote_totals`
	return r.queryCounterMap(ctx, query)
}

func (r *ledgerRepository) RecountVotes(ctx context.Context) (map[domain.CounterKey]int64, error) {
	query := `
		SELECT election_id, candidate_id, COUNT(*)
		FROM votes_ledger
		GROUP BY election_id, candidate_id
	`
	return r.queryCounterMap(ctx, query)
}

func (r *ledgerRepository) queryCounterMap(ctx context.Context, query string) (map[domain.CounterKey]int64, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.CounterKey]int64)
	for rows.Next() {
		var key domain.CounterKey
		var count int64
		if err := rows.Scan(&key.ElectionID, &key.CandidateID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan counter row: %w", err)
		}
		out[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counters: %w", err)
	}
	return out, nil
}

func (r *ledgerRepository) DuplicatePairs(ctx context.Context) (int64, error) {
	query := `
		SELECT COALESCE(SUM(c - 1), 0) FROM (
			SELECT COUNT(*) AS c
			FROM votes_ledger
			GROUP BY election_id, voter_subject
			HAVING COUNT(*) > 1
		) dup
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count duplicate pairs: %w", err)
	}
	return n, nil
}
