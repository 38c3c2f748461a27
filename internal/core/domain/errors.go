package domain

import "errors"

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrKeyUnavailable = errors.New("verification keys unavailable")
	ErrMissingScope   = errors.New("insufficient scopes")
	ErrBadElectionID  = errors.New("invalid election id")
	ErrBadCandidateID = errors.New("invalid candidate id")
	ErrDuplicateVote  = errors.New("already voted in this election")
	ErrRetryable      = errors.New("temporary failure, retry")
	ErrNotFound       = errors.New("not found")
)
