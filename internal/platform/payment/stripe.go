package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/pulsetel/simhub/pkg/config"
)

// Metadata keys attached to every checkout session.
const (
	metaOrderID  = "order_id"
	metaICCID    = "iccid"
	metaProvider = "provider"
)

// StripeGateway implements Gateway on Stripe Checkout Sessions.
type StripeGateway struct {
	cfg cfgpkg.StripeConfig
	log *zap.SugaredLogger
	sc  *client.API
}

func NewGateway(cfg *cfgpkg.Config, l *zap.SugaredLogger) Gateway {
	sc := &client.API{}
	sc.Init(cfg.Stripe.SecretKey, nil)
	return &StripeGateway{cfg: cfg.Stripe, log: l, sc: sc}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*Checkout, error) {
	name := "eSIM Bundle Renewal"
	desc := req.PlanName
	if desc == "" {
		desc = "eSIM Data Package"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(name),
					Description: stripe.String(desc),
				},
				UnitAmount: stripe.Int64(req.AmountCents),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(g.cfg.SuccessURL),
		CancelURL:  stripe.String(g.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metaOrderID, req.OrderID)
	params.AddMetadata(metaICCID, req.ICCID)
	params.AddMetadata(metaProvider, req.Provider)
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout: %w", err)
	}
	g.log.Infow("stripe checkout session created", "session_id", s.ID, "order_id", req.OrderID)
	return &Checkout{Handle: s.ID, RedirectURL: s.URL}, nil
}

func (g *StripeGateway) RetrieveCheckout(ctx context.Context, handle string) (*CheckoutStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.sc.CheckoutSessions.Get(handle, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
		}
		return nil, fmt.Errorf("stripe retrieve checkout: %w", err)
	}
	return sessionStatus(s), nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("stripe webhook verification: %w", err)
	}

	ev := &WebhookEvent{Type: string(event.Type), Raw: event.Data.Raw}
	if event.Type == "checkout.session.completed" || event.Type == "checkout.session.async_payment_succeeded" {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe webhook session decode: %w", err)
		}
		ev.Handle = s.ID
		ev.OrderID = s.Metadata[metaOrderID]
		ev.Paid = s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	}
	return ev, nil
}

func sessionStatus(s *stripe.CheckoutSession) *CheckoutStatus {
	st := &CheckoutStatus{
		Handle:        s.ID,
		Paid:          s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		PaymentStatus: string(s.PaymentStatus),
		AmountCents:   s.AmountTotal,
		Currency:      strings.ToUpper(string(s.Currency)),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		st.ChargeRef = s.PaymentIntent.ID
	}
	if raw, err := json.Marshal(s); err == nil {
		st.Raw = raw
	}
	return st
}

var Module = fx.Options(
	fx.Provide(NewGateway),
)
