package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/services"
)

type stubIntake struct {
	submitFn func(context.Context, services.SubmitOrderRequest) (services.SubmitOrderResult, error)
}

func (s *stubIntake) SubmitOrder(ctx context.Context, req services.SubmitOrderRequest) (services.SubmitOrderResult, error) {
	return s.submitFn(ctx, req)
}

type stubLifecycle struct {
	getFn  func(context.Context, string) (services.Order, error)
	listFn func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
}

func (s *stubLifecycle) CreateOrder(context.Context, services.OrderSpec) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubLifecycle) RequestTransition(context.Context, string, services.TransitionRequest) (services.TransitionResult, error) {
	return services.TransitionResult{}, nil
}

func (s *stubLifecycle) AttachInvoice(context.Context, string, services.InvoiceRef) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubLifecycle) GetOrder(ctx context.Context, id string) (services.Order, error) {
	return s.getFn(ctx, id)
}

func (s *stubLifecycle) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

type stubReconciler struct {
	handleFn func(context.Context, payments.RawEvent) (services.HandledResult, error)
}

func (s *stubReconciler) HandleProviderEvent(ctx context.Context, raw payments.RawEvent) (services.HandledResult, error) {
	return s.handleFn(ctx, raw)
}

func (s *stubReconciler) ReconcileOutcome(context.Context, string, payments.ProviderEvent) (services.HandledResult, error) {
	return services.HandledResult{}, nil
}

type stubSweeper struct {
	report services.SweepReport
	err    error
	calls  int
}

func (s *stubSweeper) Sweep(context.Context) (services.SweepReport, error) {
	s.calls++
	return s.report, s.err
}

var handlerNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func airMaxOrder(status domain.OrderStatus) domain.Order {
	order := domain.Order{
		ID: "CMD-01JAZB",
		Customer: domain.Customer{
			Name:    "Awa Diop",
			Phone:   "+221771234567",
			Email:   "awa@example.com",
			Address: "Rue 10, Mermoz",
			City:    "Dakar",
		},
		Items:         []domain.OrderItem{{Name: "Nike Air Max 90", UnitPrice: 50000, Quantity: 2}},
		TotalAmount:   100000,
		Currency:      "XOF",
		PaymentMethod: domain.PaymentMethodOnlineGateway,
		Status:        status,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     handlerNow,
		UpdatedAt:     handlerNow,
	}
	if status == domain.OrderStatusPaid {
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentDetails = &domain.PaymentDetails{TransactionID: "RCP-1", ProviderMethod: "wave", PaidAt: handlerNow}
	}
	return order
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}
