package domain

import (
	"time"

	"github.com/google/uuid"
)

// VoteAttempt is the immutable record produced by the ingestion API for
// every cast-vote request. It is written once to the append log and never
// mutated afterwards.
type VoteAttempt struct {
	ID           uuid.UUID `json:"id"`
	ElectionID   string    `json:"election_id"`
	VoterSubject string    `json:"voter_subject"`
	CandidateID  string    `json:"candidate_id"`
	RequestID    string    `json:"request_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// AcceptedVote is a VoteAttempt that won the uniqueness check-and-set for
// its (election, subject) pair. There is at most one per pair, ever.
type AcceptedVote struct {
	VoteAttempt
	AcceptedAt time.Time `json:"accepted_at"`
}

// RejectedDuplicate is the audited outcome for an attempt whose
// (election, subject) pair was already claimed. Dropped attempts are
// recorded, never silently discarded.
type RejectedDuplicate struct {
	Attempt    VoteAttempt `json:"attempt"`
	RejectedAt time.Time   `json:"rejected_at"`
}

// LogEntry is a VoteAttempt as stored in the append log, addressed by
// partition and a per-partition offset starting at 1.
type LogEntry struct {
	Partition int         `json:"partition"`
	Offset    uint64      `json:"offset"`
	Attempt   VoteAttempt `json:"attempt"`
}

// CounterKey identifies one aggregate counter.
type CounterKey struct {
	ElectionID  string
	CandidateID string
}

// CounterDelta is an increment emitted by the aggregator towards the
// hot-count cache after a committed batch.
type CounterDelta struct {
	ElectionID  string
	CandidateID string
	Delta       int64
}

// VoteStatus is what the read path reports for a voter's submission.
type VoteStatus string

const (
	// VoteStatusNone means no attempt from this voter is queued or decided.
	VoteStatusNone VoteStatus = "none"
	// VoteStatusPending means an attempt is durably queued but dedup has
	// not committed a decision yet.
	VoteStatusPending VoteStatus = "pending"
	// VoteStatusAccepted means the vote was admitted.
	VoteStatusAccepted VoteStatus = "accepted"
)

// ElectionCounts is the read-path aggregate for one election.
type ElectionCounts struct {
	ElectionID string           `json:"election_id"`
	Total      int64            `json:"total"`
	Counts     map[string]int64 `json:"counts"`
}
