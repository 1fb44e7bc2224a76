package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode"

	domain "github.com/sneakvault/orders/internal/domain"
)

type recordingEmail struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (r *recordingEmail) SendEmail(_ context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

type recordingSMS struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingSMS) SendSMS(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

type failure struct{ channel, kind string }

type recordingFailures struct {
	mu   sync.Mutex
	seen []failure
}

func (r *recordingFailures) NotificationFailure(_ context.Context, channel, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, failure{channel, kind})
}

type stubImages struct {
	urls map[string]string
}

func (s stubImages) ImageURL(_ context.Context, ref string) (string, error) {
	if url, ok := s.urls[ref]; ok {
		return url, nil
	}
	return "", errors.New("object not found")
}

func airMaxOrder() domain.Order {
	return domain.Order{
		ID: "CMD-01JAZB",
		Customer: domain.Customer{
			Name:    "Awa Diop",
			Phone:   "77 123 45 67",
			Email:   "awa@example.com",
			Address: "Rue 10, Mermoz",
			City:    "Dakar",
		},
		Items: []domain.OrderItem{
			{Name: "Nike Air Max 90", UnitPrice: 50000, Quantity: 2, ImageRef: "gs://assets/air-max.png"},
		},
		TotalAmount:   100000,
		Currency:      "XOF",
		PaymentMethod: domain.PaymentMethodCashOnDelivery,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusCashOnDelivery,
	}
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func TestFormatAmountUsesFCFA(t *testing.T) {
	r := newRenderer(Shop{Name: "SneakVault"}, nil, nil)
	got := r.formatAmount(100000, "XOF")
	if !strings.HasSuffix(got, " FCFA") || digitsOnly(got) != "100000" {
		t.Fatalf("unexpected amount %q", got)
	}
	if label := currencyLabel("EUR"); label != "EUR" {
		t.Fatalf("expected EUR label, got %q", label)
	}
	if label := currencyLabel(""); label != "FCFA" {
		t.Fatalf("expected FCFA fallback, got %q", label)
	}
}

func TestOrderConfirmationEmailContent(t *testing.T) {
	r := newRenderer(Shop{Name: "SneakVault", Phone: "+221 33 000 00 00"},
		stubImages{urls: map[string]string{"gs://assets/air-max.png": "https://cdn.sneakvault.test/air-max.png"}}, nil)
	order := airMaxOrder()
	order.Customer.Name = `Awa <script>alert(1)</script>`

	msg, err := r.orderConfirmationEmail(context.Background(), order)
	if err != nil {
		t.Fatalf("orderConfirmationEmail: %v", err)
	}
	if msg.To != "awa@example.com" || msg.Subject != "Confirmation de commande #CMD-01JAZB" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	for _, want := range []string{"Nike Air Max 90", "https://cdn.sneakvault.test/air-max.png", "Paiement à la livraison", "FCFA"} {
		if !strings.Contains(msg.HTML, want) {
			t.Fatalf("email missing %q:\n%s", want, msg.HTML)
		}
	}
	if strings.Contains(msg.HTML, "<script") {
		t.Fatalf("email must not carry script tags:\n%s", msg.HTML)
	}
}

func TestDispatcherIsolatesChannelFailures(t *testing.T) {
	email := &recordingEmail{err: errors.New("smtp 421")}
	sms := &recordingSMS{}
	failures := &recordingFailures{}
	d := NewDispatcher(DispatcherDeps{
		Email:   email,
		SMS:     sms,
		Metrics: failures,
		Shop:    Shop{Name: "SneakVault", FrontendURL: "https://shop.sneakvault.test/"},
	})

	d.SendOrderConfirmation(context.Background(), airMaxOrder())
	if len(email.sent) != 1 {
		t.Fatalf("expected one email attempt, got %d", len(email.sent))
	}
	if len(sms.texts) != 1 {
		t.Fatalf("SMS must be sent despite email failure, got %d", len(sms.texts))
	}
	if !strings.Contains(sms.texts[0], "https://shop.sneakvault.test/order-confirmation?id=CMD-01JAZB") {
		t.Fatalf("unexpected SMS %q", sms.texts[0])
	}
	if len(failures.seen) != 1 || failures.seen[0] != (failure{channelEmail, kindOrderConfirmation}) {
		t.Fatalf("unexpected failures %+v", failures.seen)
	}
}

func TestDispatcherPaymentConfirmationSkipsMissingContacts(t *testing.T) {
	email := &recordingEmail{}
	sms := &recordingSMS{err: errors.New("quota exceeded")}
	failures := &recordingFailures{}
	d := NewDispatcher(DispatcherDeps{
		Email:   email,
		SMS:     sms,
		Images:  stubImages{},
		Metrics: failures,
	})

	order := airMaxOrder()
	order.Customer.Email = ""
	d.SendPaymentConfirmation(context.Background(), order)
	if len(email.sent) != 0 {
		t.Fatalf("email must be skipped without an address")
	}
	if len(failures.seen) != 1 || failures.seen[0] != (failure{channelSMS, kindPaymentConfirmation}) {
		t.Fatalf("unexpected failures %+v", failures.seen)
	}

	order = airMaxOrder()
	d.SendPaymentConfirmation(context.Background(), order)
	if len(email.sent) != 1 || email.sent[0].Subject != "Paiement confirmé - Commande #CMD-01JAZB" {
		t.Fatalf("unexpected emails %+v", email.sent)
	}
	if strings.Contains(email.sent[0].HTML, "<img") {
		t.Fatalf("unresolvable images must be omitted")
	}
}

func TestNotificationErrorUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&NotificationError{Channel: channelEmail, Kind: kindOrderConfirmation, OrderID: "CMD-1", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrap to cause")
	}
	if !strings.Contains(err.Error(), "CMD-1") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
