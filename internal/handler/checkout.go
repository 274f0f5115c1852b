package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lumora-app/lumora/internal/auth"
	"github.com/lumora-app/lumora/internal/model"
	"github.com/lumora-app/lumora/internal/payments"
	"github.com/lumora-app/lumora/internal/store"
)

type CheckoutHandler struct {
	stripeClient *payments.Client
	users        *store.UserStore
	purchases    *store.PurchaseStore
	logger       *slog.Logger
}

func NewCheckoutHandler(sc *payments.Client, us *store.UserStore, ps *store.PurchaseStore, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{stripeClient: sc, users: us, purchases: ps, logger: logger}
}

type checkoutRequest struct {
	Pack string `json:"pack"`
}

// Create starts a Stripe checkout for a credit pack. Guests must sign up
// first: purchased credits belong to durable accounts.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	sc := auth.FromContext(r.Context())
	if sc.Kind != auth.KindUser {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "sign up to purchase credits"})
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	pack := h.stripeClient.PackByID(req.Pack)
	if pack == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown credit pack"})
		return
	}

	user, err := h.users.GetByID(sc.UserID)
	if err != nil || user == nil {
		h.logger.Error("checkout user lookup", "user_id", sc.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkout failed"})
		return
	}

	customerID := ""
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.stripeClient.CreateCustomer(user.Email)
		if err != nil {
			h.logger.Error("create stripe customer", "user_id", user.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkout failed"})
			return
		}
		if err := h.users.UpdateStripeCustomerID(user.ID, customerID); err != nil {
			h.logger.Error("save stripe customer id", "user_id", user.ID, "error", err)
		}
	}

	url, err := h.stripeClient.CreateCheckoutSession(customerID, *pack, user.ID)
	if err != nil {
		h.logger.Error("create checkout session", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkout failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// History returns the caller's fulfilled credit-pack purchases.
func (h *CheckoutHandler) History(w http.ResponseWriter, r *http.Request) {
	sc := auth.FromContext(r.Context())
	if sc.Kind != auth.KindUser {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "sign in to view purchases"})
		return
	}

	purchases, err := h.purchases.ListByUserID(sc.UserID)
	if err != nil {
		h.logger.Error("list purchases", "user_id", sc.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list purchases"})
		return
	}
	if purchases == nil {
		purchases = []model.CreditPurchase{}
	}
	writeJSON(w, http.StatusOK, purchases)
}
