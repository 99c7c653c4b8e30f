package payment

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSessionNotFound means the gateway has no checkout for the handle.
var ErrSessionNotFound = errors.New("payment: checkout session not found")

// CreateCheckoutRequest describes the single line item a renewal charges.
// Amounts are integer cents; the gateway is never given floats.
type CreateCheckoutRequest struct {
	OrderID       string
	ICCID         string
	Provider      string
	PlanName      string
	AmountCents   int64
	Currency      string
	CustomerEmail string
}

// Checkout is a hosted payment page created for one renewal order.
type Checkout struct {
	// Handle is the gateway-side session id; it joins webhook and confirm
	// callbacks back to the order.
	Handle      string
	RedirectURL string
}

// CheckoutStatus is the gateway's current view of a checkout.
type CheckoutStatus struct {
	Handle        string
	Paid          bool
	PaymentStatus string
	// ChargeRef is the underlying payment reference (payment intent), kept
	// for audits; the system never refunds automatically.
	ChargeRef   string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
	Raw         json.RawMessage
}

// WebhookEvent is a verified gateway callback. Only checkout completion
// events carry a handle and order id; everything else is passed through
// with just the type so the handler can ignore it.
type WebhookEvent struct {
	Type    string
	Handle  string
	OrderID string
	Paid    bool
	Raw     json.RawMessage
}

// Gateway abstracts the hosted-checkout payment provider.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*Checkout, error)
	RetrieveCheckout(ctx context.Context, handle string) (*CheckoutStatus, error)
	// VerifyWebhook authenticates a raw webhook payload against its
	// signature header and decodes the event.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
