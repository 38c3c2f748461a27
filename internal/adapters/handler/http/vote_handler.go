package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
)

type VoteHandler struct {
	service       ports.IngestService
	requiredScope string
}

func NewVoteHandler(service ports.IngestService, requiredScope string) *VoteHandler {
	return &VoteHandler{
		service:       service,
		requiredScope: requiredScope,
	}
}

type castVoteRequest struct {
	ElectionID  string `json:"election_id"`
	CandidateID string `json:"candidate_id"`
	RequestID   string `json:"request_id,omitempty"`
}

type castVoteResponse struct {
	VoteID     string `json:"vote_id"`
	ElectionID string `json:"election_id"`
	Status     string `json:"status"`
}

// CastVote godoc
// @Summary      Casts a vote
// @Description  Queues one ballot for the authenticated voter. Admission is decided asynchronously; poll the status endpoint for the outcome.
// @Tags         votes
// @Accept       json
// @Success      201
// @Failure      400
// @Failure      401
// @Failure      403
// @Failure      409
// @Router       /vote [post]
func (h *VoteHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !hasScope(r, h.requiredScope) {
		writeError(w, http.StatusForbidden, "insufficient scopes")
		return
	}

	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ElectionID == "" || req.CandidateID == "" {
		writeError(w, http.StatusBadRequest, "election_id and candidate_id required")
		return
	}

	result, err := h.service.CastVote(r.Context(), ports.CastVoteInput{
		ElectionID:  req.ElectionID,
		CandidateID: req.CandidateID,
		Subject:     subject,
		RequestID:   req.RequestID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrBadElectionID) || errors.Is(err, domain.ErrBadCandidateID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, domain.ErrDuplicateVote) {
			writeError(w, http.StatusConflict, domain.ErrDuplicateVote.Error())
			return
		}
		if errors.Is(err, domain.ErrRetryable) {
			writeError(w, http.StatusInternalServerError, "temporary failure, retry with the same vote")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, castVoteResponse{
		VoteID:     result.VoteID.String(),
		ElectionID: req.ElectionID,
		Status:     result.Status,
	})
}
