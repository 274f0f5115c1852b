package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lumora-app/lumora/internal/actions"
	"github.com/lumora-app/lumora/internal/auth"
	"github.com/lumora-app/lumora/internal/model"
	"github.com/lumora-app/lumora/internal/store"
)

type PromptHandler struct {
	prompts *store.PromptStore
	svc     *actions.Service
	logger  *slog.Logger
}

func NewPromptHandler(ps *store.PromptStore, svc *actions.Service, logger *slog.Logger) *PromptHandler {
	return &PromptHandler{prompts: ps, svc: svc, logger: logger}
}

type promptRequest struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	PriceCredits int    `json:"price_credits"`
}

// Create lists a new prompt for sale. Authors must be signed-in users.
func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	sc := auth.FromContext(r.Context())
	if sc.Kind != auth.KindUser {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only registered users can publish prompts"})
		return
	}

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}
	if req.PriceCredits < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price_credits must be >= 0"})
		return
	}

	prompt, err := h.prompts.Create(sc.UserID, req.Title, req.Body, req.PriceCredits)
	if err != nil {
		h.logger.Error("create prompt", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create prompt"})
		return
	}
	writeJSON(w, http.StatusCreated, prompt)
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.prompts.List()
	if err != nil {
		h.logger.Error("list prompts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list prompts"})
		return
	}
	if prompts == nil {
		prompts = []model.Prompt{}
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	prompt, err := h.prompts.GetByID(id)
	if err != nil {
		h.logger.Error("get prompt", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get prompt"})
		return
	}
	if prompt == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "prompt not found"})
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

// Buy charges the caller the prompt's price and records the sale. The spend
// goes through the credit service, so guests get their eager daily grant
// and a short balance fails with the insufficient-credits message.
func (h *PromptHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	prompt, err := h.prompts.GetByID(id)
	if err != nil {
		h.logger.Error("get prompt", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get prompt"})
		return
	}
	if prompt == nil || !prompt.Active {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "prompt not found"})
		return
	}

	var balance int
	if prompt.PriceCredits > 0 {
		balance, err = h.svc.DeductCredits(r.Context(), prompt.PriceCredits, fmt.Sprintf("prompt:%d", prompt.ID))
		if err != nil {
			writeCreditError(w, err)
			return
		}
	} else {
		// Free prompts skip the ledger entirely.
		bal, err := h.svc.GetCredits(r.Context())
		if err != nil {
			writeCreditError(w, err)
			return
		}
		balance = bal.Credits
	}

	sc := auth.FromContext(r.Context())
	buyerKind, buyerID := buyerIdentity(sc)
	if _, err := h.prompts.RecordPurchase(prompt.ID, buyerKind, buyerID, prompt.PriceCredits); err != nil {
		// The spend already went through; the missing sale row is a
		// bookkeeping gap, not a reason to fail the buyer.
		h.logger.Error("record prompt purchase", "prompt_id", prompt.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prompt":  prompt,
		"credits": balance,
	})
}

// Update edits a listing. Only the author may change it; flipping active
// off is the way a listing is withdrawn from the marketplace.
func (h *PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	prompt, sc, ok := h.authorPrompt(w, r)
	if !ok {
		return
	}

	var req struct {
		promptRequest
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = prompt.Title
	}
	body := req.Body
	if body == "" {
		body = prompt.Body
	}
	price := prompt.PriceCredits
	if req.PriceCredits > 0 {
		price = req.PriceCredits
	}
	active := prompt.Active
	if req.Active != nil {
		active = *req.Active
	}

	updated, err := h.prompts.Update(prompt.ID, title, body, price, active)
	if err != nil {
		h.logger.Error("update prompt", "prompt_id", prompt.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update prompt"})
		return
	}
	h.logger.Info("prompt updated", "prompt_id", prompt.ID, "author_id", sc.UserID)
	writeJSON(w, http.StatusOK, updated)
}

// Delete removes a listing permanently. Author only.
func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	prompt, sc, ok := h.authorPrompt(w, r)
	if !ok {
		return
	}

	if err := h.prompts.Delete(prompt.ID); err != nil {
		h.logger.Error("delete prompt", "prompt_id", prompt.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete prompt"})
		return
	}
	h.logger.Info("prompt deleted", "prompt_id", prompt.ID, "author_id", sc.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// authorPrompt loads the prompt from the path and checks the caller is its
// author. On failure the response is already written.
func (h *PromptHandler) authorPrompt(w http.ResponseWriter, r *http.Request) (*model.Prompt, auth.SessionContext, bool) {
	sc := auth.FromContext(r.Context())
	if sc.Kind != auth.KindUser {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only registered users can manage prompts"})
		return nil, sc, false
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return nil, sc, false
	}

	prompt, err := h.prompts.GetByID(id)
	if err != nil {
		h.logger.Error("get prompt", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get prompt"})
		return nil, sc, false
	}
	if prompt == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "prompt not found"})
		return nil, sc, false
	}
	if prompt.AuthorID != sc.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not your prompt"})
		return nil, sc, false
	}
	return prompt, sc, true
}

func buyerIdentity(sc auth.SessionContext) (kind, id string) {
	if sc.Kind == auth.KindUser {
		return "user", strconv.FormatInt(sc.UserID, 10)
	}
	return "guest", sc.Guest.ID
}
