package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lumora-app/lumora/internal/actions"
	"github.com/lumora-app/lumora/internal/payments"
	"github.com/lumora-app/lumora/internal/store"
)

type WebhookHandler struct {
	stripeClient *payments.Client
	purchases    *store.PurchaseStore
	svc          *actions.Service
	logger       *slog.Logger
}

func NewWebhookHandler(sc *payments.Client, ps *store.PurchaseStore, svc *actions.Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{stripeClient: sc, purchases: ps, svc: svc, logger: logger}
}

// HandleStripeWebhook verifies and dispatches Stripe events. Fulfillment is
// idempotent on the checkout session id, so Stripe's redelivery retries
// can never double-credit an account.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook unmarshal checkout session", "error", err)
		return
	}

	userID, err := strconv.ParseInt(sess.ClientReferenceID, 10, 64)
	if err != nil {
		h.logger.Error("webhook missing client reference", "session", sess.ID)
		return
	}
	packCredits, err := strconv.Atoi(sess.Metadata["credits"])
	if err != nil || packCredits <= 0 {
		h.logger.Error("webhook missing credits metadata", "session", sess.ID)
		return
	}

	_, created, err := h.purchases.Create(userID, sess.ID, packCredits)
	if err != nil {
		h.logger.Error("webhook record purchase", "session", sess.ID, "error", err)
		return
	}
	if !created {
		h.logger.Info("webhook duplicate delivery ignored", "session", sess.ID)
		return
	}

	if _, err := h.svc.AddCredits(userID, packCredits, "purchase"); err != nil {
		h.logger.Error("webhook fulfill credits", "session", sess.ID, "user_id", userID, "error", err)
	}
}
