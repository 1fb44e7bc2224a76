package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/repositories"
)

func TestSubmitCashOrder(t *testing.T) {
	h := newTestHarness(t)
	result, err := h.intake.SubmitOrder(context.Background(), airMaxRequest(domain.PaymentMethodCashOnDelivery))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.InvoiceURL != "" {
		t.Fatalf("cash orders must not return an invoice url, got %q", result.InvoiceURL)
	}
	if result.Order.Status != domain.OrderStatusPending || result.Order.PaymentStatus != domain.PaymentStatusCashOnDelivery {
		t.Fatalf("unexpected state %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
	if len(h.gateway.invoiceRequests()) != 0 {
		t.Fatalf("cash orders must not create invoices")
	}
	h.drain(t)
	if confirmations, _ := h.notifier.counts(); confirmations != 1 {
		t.Fatalf("expected one order confirmation, got %d", confirmations)
	}
}

func TestSubmitOnlineOrder(t *testing.T) {
	h := newTestHarness(t)
	result, err := h.intake.SubmitOrder(context.Background(), airMaxRequest(domain.PaymentMethodOnlineGateway))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	order := result.Order
	if order.Status != domain.OrderStatusAwaitingPayment || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected state %s/%s", order.Status, order.PaymentStatus)
	}
	if result.InvoiceURL != "https://pay.example/checkout/"+order.ID {
		t.Fatalf("unexpected invoice url %q", result.InvoiceURL)
	}
	if order.Invoice == nil || order.Invoice.Token != "tok_"+order.ID || order.Invoice.Provider != payments.ProviderPayDunya {
		t.Fatalf("expected invoice attached, got %+v", order.Invoice)
	}

	requests := h.gateway.invoiceRequests()
	if len(requests) != 1 {
		t.Fatalf("expected one invoice request, got %d", len(requests))
	}
	req := requests[0]
	if req.CallbackURL != "https://api.sneakvault.example/api/v1/webhooks/payments/paydunya" {
		t.Fatalf("unexpected callback url %q", req.CallbackURL)
	}
	if req.ReturnURL != "https://sneakvault.example/order-confirmation?id="+order.ID {
		t.Fatalf("unexpected return url %q", req.ReturnURL)
	}
	if req.CancelURL != "https://sneakvault.example#contact" {
		t.Fatalf("unexpected cancel url %q", req.CancelURL)
	}
	if req.Description != "Commande SneakVault #"+order.ID || req.Metadata.OrderID != order.ID || req.Metadata.Store != "SneakVault" {
		t.Fatalf("unexpected invoice metadata %+v", req)
	}
	if len(req.Items) != 1 || req.Items[0].UnitPrice != 50000 || req.Items[0].Quantity != 2 {
		t.Fatalf("unexpected invoice items %+v", req.Items)
	}

	h.drain(t)
	if confirmations, _ := h.notifier.counts(); confirmations != 0 {
		t.Fatalf("online orders are confirmed on payment, got %d confirmations", confirmations)
	}
}

func TestSubmitOnlineOrderGatewayFailure(t *testing.T) {
	h := newTestHarness(t)
	h.gateway.createFn = func(context.Context, payments.InvoiceRequest) (payments.Invoice, error) {
		return payments.Invoice{}, errors.New("paydunya unavailable")
	}

	result, err := h.intake.SubmitOrder(context.Background(), airMaxRequest(domain.PaymentMethodOnlineGateway))
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	stored, getErr := h.repo.Get(context.Background(), result.Order.ID)
	if getErr != nil {
		t.Fatalf("order should remain persisted: %v", getErr)
	}
	if stored.Status != domain.OrderStatusAwaitingPayment || stored.PaymentStatus != domain.PaymentStatusPending || stored.Invoice != nil {
		t.Fatalf("unexpected stored order %+v", stored)
	}
}

func TestSubmitOrderRejectsInconsistentTotal(t *testing.T) {
	h := newTestHarness(t)
	req := airMaxRequest(domain.PaymentMethodCashOnDelivery)
	req.TotalAmount = 90000

	_, err := h.intake.SubmitOrder(context.Background(), req)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["total_amount"] == "" {
		t.Fatalf("expected total_amount validation error, got %v", err)
	}
	if page, _ := h.repo.List(context.Background(), repositories.OrderListFilter{}); len(page.Items) != 0 {
		t.Fatalf("rejected intake must not create an order")
	}
}

func TestSubmitOrderRejectsOverflowingAmounts(t *testing.T) {
	h := newTestHarness(t)
	cases := []struct {
		name  string
		items []domain.OrderItem
		total int64
		field string
	}{
		{"wrapped line total", []domain.OrderItem{{Name: "Air Max", UnitPrice: 1<<62 + 1, Quantity: 4}}, 4, "items[0].unit_price"},
		{"quantity above bound", []domain.OrderItem{{Name: "Air Max", UnitPrice: 50000, Quantity: domain.MaxItemQuantity + 1}}, 50000 * (domain.MaxItemQuantity + 1), "items[0].quantity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := airMaxRequest(domain.PaymentMethodCashOnDelivery)
			req.Items = tc.items
			req.TotalAmount = tc.total

			_, err := h.intake.SubmitOrder(context.Background(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Fields[tc.field] == "" {
				t.Fatalf("expected %s validation error, got %v", tc.field, err)
			}
		})
	}
	if page, _ := h.repo.List(context.Background(), repositories.OrderListFilter{}); len(page.Items) != 0 {
		t.Fatalf("rejected intake must not create an order")
	}
}

func TestSubmitOrderSanitisesNotes(t *testing.T) {
	h := newTestHarness(t)
	req := airMaxRequest(domain.PaymentMethodCashOnDelivery)
	req.Notes = "<b>Livrer</b> après 18h<script>alert(1)</script>"

	result, err := h.intake.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Order.Notes != "Livrer après 18h" {
		t.Fatalf("unexpected notes %q", result.Order.Notes)
	}
}

func TestSubmitOnlineOrderWithoutGateway(t *testing.T) {
	h := newTestHarness(t)
	intake, err := NewOrderIntake(OrderIntakeDeps{Lifecycle: h.lifecycle})
	if err != nil {
		t.Fatalf("NewOrderIntake: %v", err)
	}
	if _, err := intake.SubmitOrder(context.Background(), airMaxRequest(domain.PaymentMethodOnlineGateway)); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if page, _ := h.repo.List(context.Background(), repositories.OrderListFilter{}); len(page.Items) != 0 {
		t.Fatalf("no order should be created without a gateway")
	}
}

func TestNewOrderIntakeRequiresURLsForOnlinePayment(t *testing.T) {
	h := newTestHarness(t)
	if _, err := NewOrderIntake(OrderIntakeDeps{Lifecycle: h.lifecycle, Gateways: h.resolver}); err == nil {
		t.Fatalf("expected error without frontend/public URLs")
	}
}
