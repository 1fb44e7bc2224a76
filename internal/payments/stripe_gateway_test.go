package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test"

type stubSessions struct {
	newFn func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getFn func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func (s *stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.newFn(params)
}

func (s *stubSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.getFn(id, params)
}

func newTestStripe(t *testing.T, sessions *stubSessions) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(StripeConfig{WebhookSecret: testWebhookSecret, sessions: sessions})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	return gw
}

func signedEvent(t *testing.T, payload string) RawEvent {
	t.Helper()
	signed, err := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	return RawEvent{
		Provider: ProviderStripe,
		Body:     signed.Payload,
		Header:   http.Header{stripeSignatureHeader: []string{signed.Header}},
	}
}

func TestStripeCreateInvoice(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	gw := newTestStripe(t, &stubSessions{
		newFn: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
		},
	})

	invoice, err := gw.CreateInvoice(context.Background(), InvoiceRequest{
		Amount:    150000,
		Currency:  "XOF",
		Items:     []InvoiceItem{{Name: "Air Max 90", UnitPrice: 75000, Quantity: 2}},
		ReturnURL: "https://sneakvault.example/order-confirmation?id=ord_1",
		CancelURL: "https://sneakvault.example#contact",
		Metadata:  InvoiceMetadata{OrderID: "ord_1", Store: "SneakVault"},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.Token != "cs_test_1" || invoice.URL != "https://checkout.stripe.com/c/cs_test_1" {
		t.Fatalf("unexpected invoice %+v", invoice)
	}
	if captured == nil || len(captured.LineItems) != 1 {
		t.Fatalf("expected one line item, got %+v", captured)
	}
	line := captured.LineItems[0]
	if *line.PriceData.UnitAmount != 75000 || *line.Quantity != 2 || *line.PriceData.Currency != "xof" {
		t.Fatalf("unexpected line item %+v", line.PriceData)
	}
	if *captured.ClientReferenceID != "ord_1" || captured.Metadata["store"] != "SneakVault" {
		t.Fatalf("expected order reference on session params")
	}
}

func TestStripeCreateInvoiceError(t *testing.T) {
	gw := newTestStripe(t, &stubSessions{
		newFn: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return nil, errors.New("card_declined")
		},
	})
	if _, err := gw.CreateInvoice(context.Background(), InvoiceRequest{Amount: 1000}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStripeInvoiceStatus(t *testing.T) {
	cases := map[string]struct {
		session *stripe.CheckoutSession
		want    EventStatus
	}{
		"paid": {
			session: &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete, PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid, ClientReferenceID: "ord_1"},
			want:    EventStatusCompleted,
		},
		"expired": {
			session: &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want:    EventStatusExpired,
		},
		"open": {
			session: &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want:    EventStatusPending,
		},
	}
	for name, tc := range cases {
		gw := newTestStripe(t, &stubSessions{
			getFn: func(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
				if id != "cs_1" {
					t.Errorf("unexpected id %s", id)
				}
				return tc.session, nil
			},
		})
		status, err := gw.InvoiceStatus(context.Background(), "cs_1")
		if err != nil {
			t.Fatalf("%s: InvoiceStatus: %v", name, err)
		}
		if status.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, status.Status)
		}
	}
}

func TestStripeVerifyAndParseCompletedEvent(t *testing.T) {
	gw := newTestStripe(t, &stubSessions{})
	raw := signedEvent(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"client_reference_id": "ord_1",
			"payment_status": "paid",
			"payment_intent": "pi_123",
			"payment_method_types": ["card"]
		}}
	}`)

	if !gw.VerifyEvent(context.Background(), raw) {
		t.Fatalf("expected signed event to verify")
	}
	event, err := gw.ParseEvent(context.Background(), raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	want := ProviderEvent{
		Status:        EventStatusCompleted,
		RawStatus:     "checkout.session.completed",
		OrderID:       "ord_1",
		TransactionID: "pi_123",
		Method:        "card",
		InvoiceToken:  "cs_1",
	}
	if event != want {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestStripeParseExpiredEventUsesMetadata(t *testing.T) {
	gw := newTestStripe(t, &stubSessions{})
	raw := signedEvent(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "checkout.session.expired",
		"data": {"object": {"id": "cs_2", "object": "checkout.session", "metadata": {"order_id": "ord_2"}, "payment_status": "unpaid"}}
	}`)
	event, err := gw.ParseEvent(context.Background(), raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.Status != EventStatusExpired || event.OrderID != "ord_2" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestStripeRejectsTamperedEvent(t *testing.T) {
	gw := newTestStripe(t, &stubSessions{})
	raw := signedEvent(t, `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	raw.Body = append([]byte{}, raw.Body...)
	raw.Body[len(raw.Body)-2] = ' '

	if gw.VerifyEvent(context.Background(), raw) {
		t.Fatalf("expected tampered body to fail verification")
	}
	if gw.VerifyEvent(context.Background(), RawEvent{Body: []byte(`{}`), Header: http.Header{}}) {
		t.Fatalf("expected unsigned event to fail verification")
	}
}

func TestNewStripeGatewayRequiresSecrets(t *testing.T) {
	if _, err := NewStripeGateway(StripeConfig{APIKey: "sk_test"}); err == nil {
		t.Fatalf("expected error without webhook secret")
	}
	if _, err := NewStripeGateway(StripeConfig{WebhookSecret: "whsec"}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
