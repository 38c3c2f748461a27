package http

import (
	"net/http"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	"github.com/go-chi/chi/v5"
)

type ResultsHandler struct {
	service ports.ResultsService
}

func NewResultsHandler(service ports.ResultsService) *ResultsHandler {
	return &ResultsHandler{
		service: service,
	}
}

// GetCounts godoc
// @Summary      Returns running vote counts for an election
// @Tags         votes
// @Success      200
// @Router       /votes/{election_id} [get]
func (h *ResultsHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "electionID")
	if electionID == "" {
		writeError(w, http.StatusBadRequest, "election id required")
		return
	}

	counts, err := h.service.GetCounts(r.Context(), electionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type voteStatusResponse struct {
	ElectionID  string            `json:"election_id"`
	Status      domain.VoteStatus `json:"status"`
	CandidateID string            `json:"candidate_id,omitempty"`
}

func (h *ResultsHandler) GetVoteStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	electionID := chi.URLParam(r, "electionID")
	if electionID == "" {
		writeError(w, http.StatusBadRequest, "election id required")
		return
	}

	status, vote, err := h.service.GetVoteStatus(r.Context(), electionID, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := voteStatusResponse{ElectionID: electionID, Status: status}
	if vote != nil {
		resp.CandidateID = vote.CandidateID
	}
	writeJSON(w, http.StatusOK, resp)
}
