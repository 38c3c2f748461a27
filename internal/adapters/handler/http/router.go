package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewHandler(voteHandler *VoteHandler, resultsHandler *ResultsHandler, auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "ballotline", "status": "ok"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Get("/votes/{electionID}", resultsHandler.GetCounts)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/vote", voteHandler.CastVote)
		r.Get("/votes/{electionID}/status", resultsHandler.GetVoteStatus)
	})

	return r
}
