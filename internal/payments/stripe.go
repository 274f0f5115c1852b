package payments

import (
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Pack is a purchasable credit bundle mapped to a Stripe price.
type Pack struct {
	ID      string
	Credits int
	PriceID string
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Packs         []Pack
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// PackByID returns the configured pack with the given id, or nil.
func (c *Client) PackByID(id string) *Pack {
	for i := range c.cfg.Packs {
		if c.cfg.Packs[i].ID == id {
			return &c.cfg.Packs[i]
		}
	}
	return nil
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a one-time payment checkout for a credit
// pack and returns the hosted checkout URL. The user id rides along as the
// client reference and the credit amount as metadata, so the webhook can
// fulfill without a local pending-order table.
func (c *Client) CreateCheckoutSession(customerID string, pack Pack, userID int64) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(pack.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(strconv.FormatInt(userID, 10)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
	}
	params.AddMetadata("credits", strconv.Itoa(pack.Credits))

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the webhook signature and parses the event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}
