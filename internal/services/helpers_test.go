package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/repositories"
	"github.com/sneakvault/orders/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	orders   []Order
	payments []Order
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, order Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order)
}

func (n *recordingNotifier) SendPaymentConfirmation(_ context.Context, order Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, order)
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders), len(n.payments)
}

type stubGateway struct {
	name     string
	createFn func(context.Context, payments.InvoiceRequest) (payments.Invoice, error)
	verifyFn func(context.Context, payments.RawEvent) bool
	statusFn func(context.Context, string) (payments.InvoiceStatus, error)

	mu       sync.Mutex
	requests []payments.InvoiceRequest
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) CreateInvoice(ctx context.Context, req payments.InvoiceRequest) (payments.Invoice, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return payments.Invoice{URL: "https://pay.example/checkout/" + req.Metadata.OrderID, Token: "tok_" + req.Metadata.OrderID}, nil
}

func (g *stubGateway) VerifyEvent(ctx context.Context, raw payments.RawEvent) bool {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, raw)
	}
	return true
}

// ParseEvent reads a flat JSON body: {"status", "order_id", "transaction_id"}.
func (g *stubGateway) ParseEvent(_ context.Context, raw payments.RawEvent) (payments.ProviderEvent, error) {
	var body struct {
		Status        string `json:"status"`
		OrderID       string `json:"order_id"`
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(raw.Body, &body); err != nil {
		return payments.ProviderEvent{}, payments.ErrMalformedEvent
	}
	return payments.ProviderEvent{
		Status:        payments.NormaliseStatus(body.Status),
		RawStatus:     body.Status,
		OrderID:       body.OrderID,
		TransactionID: body.TransactionID,
		Method:        "wave",
	}, nil
}

func (g *stubGateway) InvoiceStatus(ctx context.Context, token string) (payments.InvoiceStatus, error) {
	if g.statusFn != nil {
		return g.statusFn(ctx, token)
	}
	return payments.InvoiceStatus{Status: payments.EventStatusPending}, nil
}

func (g *stubGateway) invoiceRequests() []payments.InvoiceRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.InvoiceRequest(nil), g.requests...)
}

type stubResolver struct {
	gateways map[string]payments.Gateway
	def      payments.Gateway
}

func newStubResolver(gateways ...*stubGateway) *stubResolver {
	r := &stubResolver{gateways: make(map[string]payments.Gateway)}
	for i, gw := range gateways {
		r.gateways[gw.name] = gw
		if i == 0 {
			r.def = gw
		}
	}
	return r
}

func (r *stubResolver) Get(name string) (payments.Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, payments.ErrUnsupportedProvider
	}
	return gw, nil
}

func (r *stubResolver) Default() payments.Gateway { return r.def }

type recordingOutcomes struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingOutcomes) WebhookOutcome(_ context.Context, provider, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, provider+":"+outcome)
}

// stubOrderRepo lets tests script store behaviour one call at a time.
type stubOrderRepo struct {
	getFn    func(context.Context, string) (domain.Order, error)
	createFn func(context.Context, domain.Order) error
	updateFn func(context.Context, string, domain.OrderStatus, repositories.OrderMutation) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Create(ctx context.Context, order domain.Order) error {
	if s.createFn != nil {
		return s.createFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) ConditionalUpdate(ctx context.Context, orderID string, expected domain.OrderStatus, mutate repositories.OrderMutation) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, orderID, expected, mutate)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) Ping(context.Context) error { return nil }

type testHarness struct {
	repo       *memory.OrderRepository
	events     *captureOrderEvents
	notifier   *recordingNotifier
	gateway    *stubGateway
	resolver   *stubResolver
	outcomes   *recordingOutcomes
	tasks      *BestEffort
	lifecycle  OrderLifecycle
	reconciler WebhookReconciler
	intake     OrderIntake
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		repo:     memory.NewOrderRepository(memory.WithClock(fixedClock(testNow))),
		events:   &captureOrderEvents{},
		notifier: &recordingNotifier{},
		gateway:  &stubGateway{name: payments.ProviderPayDunya},
		outcomes: &recordingOutcomes{},
		tasks:    NewBestEffort(time.Second, nil),
	}
	h.resolver = newStubResolver(h.gateway)

	var err error
	seq := 0
	h.lifecycle, err = NewOrderLifecycle(OrderLifecycleDeps{
		Orders: h.repo,
		Clock:  fixedClock(testNow),
		IDGenerator: func() string {
			seq++
			return "01JAZ" + string(rune('A'+seq))
		},
		Events: h.events,
	})
	if err != nil {
		t.Fatalf("NewOrderLifecycle: %v", err)
	}
	h.reconciler, err = NewWebhookReconciler(WebhookReconcilerDeps{
		Lifecycle: h.lifecycle,
		Gateways:  h.resolver,
		Notifier:  h.notifier,
		Tasks:     h.tasks,
		Metrics:   h.outcomes,
	})
	if err != nil {
		t.Fatalf("NewWebhookReconciler: %v", err)
	}
	h.intake, err = NewOrderIntake(OrderIntakeDeps{
		Lifecycle: h.lifecycle,
		Gateways:  h.resolver,
		Notifier:  h.notifier,
		Tasks:     h.tasks,
		Shop: ShopIdentity{
			Name:          "SneakVault",
			FrontendURL:   "https://sneakvault.example/",
			PublicBaseURL: "https://api.sneakvault.example",
			Currency:      "XOF",
		},
		Clock: fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("NewOrderIntake: %v", err)
	}
	return h
}

func (h *testHarness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.tasks.Wait(ctx); err != nil {
		t.Fatalf("waiting for best effort tasks: %v", err)
	}
}

func validCustomer() Customer {
	return Customer{
		Name:    "Awa Diop",
		Phone:   "77 123 45 67",
		Email:   "awa@example.com",
		Address: "Rue 10, Medina",
		City:    "Dakar",
	}
}

func airMaxRequest(method PaymentMethod) SubmitOrderRequest {
	return SubmitOrderRequest{
		Customer:      validCustomer(),
		Items:         []OrderItem{{Name: "Air Max", UnitPrice: 50000, Quantity: 2}},
		TotalAmount:   100000,
		PaymentMethod: method,
	}
}

func webhookBody(status, orderID, transactionID string) payments.RawEvent {
	body, _ := json.Marshal(map[string]string{
		"status":         status,
		"order_id":       orderID,
		"transaction_id": transactionID,
	})
	return payments.RawEvent{Provider: payments.ProviderPayDunya, Body: body}
}
