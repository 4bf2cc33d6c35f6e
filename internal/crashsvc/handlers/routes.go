package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/ledger"
)

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)
		r.Post("/fair/verify", h.VerifyHandler)
		r.Get("/rounds/{roundID}/fair", h.RoundFairnessHandler)
	})
}

// RoundFairnessHandler serves the per-round fairness publication: the
// commitment is always visible, the seed and crash point only once the
// round has been revealed.
func (h *Handler) RoundFairnessHandler(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	round, err := h.rounds.GetRound(r.Context(), roundID)
	if err != nil {
		if errors.Is(err, ledger.ErrRoundNotFound) {
			h.CreateResponse(w, Response{
				Message: "round not found",
				Code:    http.StatusNotFound,
				Error:   err.Error(),
			})
			return
		}
		h.CreateResponse(w, Response{
			Message: "failed to load round",
			Code:    http.StatusInternalServerError,
			Error:   err.Error(),
		})
		return
	}

	data := roundFairness{
		RoundID:        round.ID,
		Status:         string(round.Status),
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		Nonce:          round.Nonce,
	}
	if round.Revealed {
		data.ServerSeed = round.ServerSeed
		data.CrashPoint = round.CrashPoint.StringFixed(2)
	}

	h.CreateResponse(w, Response{
		Message: "round fairness data",
		Code:    200,
		Data:    data,
	})
}
