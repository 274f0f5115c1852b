package model

import "time"

type Prompt struct {
	ID           int64     `json:"id"`
	AuthorID     int64     `json:"author_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	PriceCredits int       `json:"price_credits"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PromptPurchase struct {
	ID           int64     `json:"id"`
	PromptID     int64     `json:"prompt_id"`
	BuyerKind    string    `json:"buyer_kind"`
	BuyerID      string    `json:"buyer_id"`
	CreditsSpent int       `json:"credits_spent"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreditPurchase records a fulfilled Stripe credit-pack checkout. The
// stripe_session_id uniqueness is what makes webhook fulfillment idempotent.
type CreditPurchase struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	StripeSessionID string    `json:"stripe_session_id"`
	Credits         int       `json:"credits"`
	CreatedAt       time.Time `json:"created_at"`
}
