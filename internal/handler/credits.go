package handler

import (
	"encoding/json"
	"net/http"

	"github.com/lumora-app/lumora/internal/actions"
)

type CreditsHandler struct {
	svc *actions.Service
}

func NewCreditsHandler(svc *actions.Service) *CreditsHandler {
	return &CreditsHandler{svc: svc}
}

// Get returns the caller's balance after attempting the daily grant.
func (h *CreditsHandler) Get(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.GetCredits(r.Context())
	if err != nil {
		writeCreditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type deductRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// Deduct spends credits on behalf of the caller.
func (h *CreditsHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	balance, err := h.svc.DeductCredits(r.Context(), req.Amount, req.Reason)
	if err != nil {
		writeCreditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}
