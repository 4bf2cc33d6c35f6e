package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/fair"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/service"
)

type Handler struct {
	fair   *fair.Engine
	rounds *service.RoundService
}

func NewHandler(fairEngine *fair.Engine, rounds *service.RoundService) *Handler {
	return &Handler{fair: fairEngine, rounds: rounds}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "crash settlement service is running at port " + os.Getenv("SERVICE_PORT"),
		Code:    200,
		Data:    nil,
	}
	json.NewEncoder(w).Encode(rsp)
}

type verifyRequest struct {
	ServerSeed string  `json:"server_seed"`
	ClientSeed string  `json:"client_seed"`
	Nonce      int64   `json:"nonce"`
	CrashPoint float64 `json:"crash_point"`
}

type verifyResponse struct {
	Valid      bool    `json:"valid"`
	CrashPoint float64 `json:"crash_point"`
}

// VerifyHandler recomputes an outcome from a revealed seed so players
// can check a round independently. Malformed input yields valid=false,
// never a server error.
func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{
			Message: "invalid request body",
			Code:    http.StatusBadRequest,
			Error:   err.Error(),
		})
		return
	}

	h.CreateResponse(w, Response{
		Message: "verification result",
		Code:    200,
		Data: verifyResponse{
			Valid:      h.fair.Verify(req.ServerSeed, req.ClientSeed, req.Nonce, req.CrashPoint),
			CrashPoint: h.fair.ComputeOutcome(req.ServerSeed, req.ClientSeed, req.Nonce),
		},
	})
}

type roundFairness struct {
	RoundID        string `json:"round_id"`
	Status         string `json:"status"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	ServerSeed     string `json:"server_seed,omitempty"`
	CrashPoint     string `json:"crash_point,omitempty"`
}
