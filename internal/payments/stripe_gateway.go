package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the Stripe Checkout gateway.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        Logger

	sessions stripeSessionAPI
}

// StripeGateway creates Stripe Checkout sessions and verifies Stripe webhooks.
type StripeGateway struct {
	sessions      stripeSessionAPI
	webhookSecret string
	account       string
	logger        Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway builds the gateway from an API key and webhook signing secret.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	sessions := cfg.sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: secret,
		account:       strings.TrimSpace(cfg.AccountID),
		logger:        logger,
	}, nil
}

func (g *StripeGateway) Name() string { return ProviderStripe }

// CreateInvoice opens a Checkout session in payment mode. XOF is zero-decimal so unit prices are
// passed through unchanged.
func (g *StripeGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	if req.Amount <= 0 {
		return Invoice{}, fmt.Errorf("stripe: invoice amount must be positive, got %d", req.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "xof"
	}
	metadata := req.Metadata.Values()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata:    metadata,
			Description: stripe.String(req.Description),
		},
	}
	params.Context = ctx
	if req.Metadata.OrderID != "" {
		params.ClientReferenceID = stripe.String(req.Metadata.OrderID)
		params.SetIdempotencyKey("invoice-" + req.Metadata.OrderID)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}

	for _, item := range req.Items {
		quantity := int64(item.Quantity)
		if quantity < 1 {
			quantity = 1
		}
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.Description != "" {
			line.PriceData.ProductData.Description = stripe.String(item.Description)
		}
		params.LineItems = append(params.LineItems, line)
	}
	if len(params.LineItems) == 0 {
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}}
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return Invoice{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session.URL == "" {
		return Invoice{}, fmt.Errorf("%w: session %s has no url", ErrInvoiceRejected, session.ID)
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":   req.Metadata.OrderID,
		"sessionId": session.ID,
		"amount":    req.Amount,
	})
	return Invoice{URL: session.URL, Token: session.ID}, nil
}

// InvoiceStatus looks up a Checkout session by id.
func (g *StripeGateway) InvoiceStatus(ctx context.Context, token string) (InvoiceStatus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return InvoiceStatus{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	session, err := g.sessions.Get(token, params)
	if err != nil {
		return InvoiceStatus{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}

	status := EventStatusPending
	switch {
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = EventStatusExpired
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = EventStatusCompleted
	}
	return InvoiceStatus{
		Status:        status,
		RawStatus:     string(session.Status) + "/" + string(session.PaymentStatus),
		OrderID:       stripeOrderID(session),
		TransactionID: stripeIntentID(session),
		Method:        stripeMethod(session),
	}, nil
}

// VerifyEvent checks the Stripe-Signature header against the webhook secret.
func (g *StripeGateway) VerifyEvent(_ context.Context, raw RawEvent) bool {
	_, err := g.construct(raw)
	return err == nil
}

// ParseEvent maps Checkout session events onto EventStatus. Other event types come back with
// their raw type and no normalised status.
func (g *StripeGateway) ParseEvent(_ context.Context, raw RawEvent) (ProviderEvent, error) {
	event, err := g.construct(raw)
	if err != nil {
		return ProviderEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var status EventStatus
	switch event.Type {
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		status = EventStatusCompleted
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		status = EventStatusFailed
	case stripe.EventTypeCheckoutSessionExpired:
		status = EventStatusExpired
	case stripe.EventTypeCheckoutSessionCompleted:
		status = EventStatusPending
	default:
		return ProviderEvent{Status: EventStatus(event.Type), RawStatus: string(event.Type)}, nil
	}

	if event.Data == nil {
		return ProviderEvent{}, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return ProviderEvent{}, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}
	if event.Type == stripe.EventTypeCheckoutSessionCompleted && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		status = EventStatusCompleted
	}

	parsed := ProviderEvent{
		Status:        status,
		RawStatus:     string(event.Type),
		OrderID:       stripeOrderID(&session),
		TransactionID: stripeIntentID(&session),
		Method:        stripeMethod(&session),
		InvoiceToken:  session.ID,
	}
	if parsed.OrderID == "" {
		return ProviderEvent{}, fmt.Errorf("%w: session %s carries no order reference", ErrMalformedEvent, session.ID)
	}
	return parsed, nil
}

func (g *StripeGateway) construct(raw RawEvent) (stripe.Event, error) {
	signature := raw.Header.Get(stripeSignatureHeader)
	if signature == "" || len(raw.Body) == 0 {
		return stripe.Event{}, errors.New("stripe: unsigned event")
	}
	return webhook.ConstructEventWithOptions(raw.Body, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func stripeOrderID(session *stripe.CheckoutSession) string {
	if session == nil {
		return ""
	}
	if id := strings.TrimSpace(session.ClientReferenceID); id != "" {
		return id
	}
	return strings.TrimSpace(session.Metadata["order_id"])
}

func stripeIntentID(session *stripe.CheckoutSession) string {
	if session == nil || session.PaymentIntent == nil {
		return ""
	}
	return session.PaymentIntent.ID
}

func stripeMethod(session *stripe.CheckoutSession) string {
	if session == nil || len(session.PaymentMethodTypes) == 0 {
		return "card"
	}
	return session.PaymentMethodTypes[0]
}
