package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/services"
)

const maxWebhookBodySize int64 = 1 << 20

type webhookAck struct {
	Status      string `json:"status"`
	Outcome     string `json:"outcome"`
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}

// PaymentWebhookHandlers receives provider callbacks under /webhooks/payments/{provider}.
type PaymentWebhookHandlers struct {
	reconciler services.WebhookReconciler
}

// NewPaymentWebhookHandlers constructs PaymentWebhookHandlers.
func NewPaymentWebhookHandlers(reconciler services.WebhookReconciler) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{reconciler: reconciler}
}

// Routes registers the webhook endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(body)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.reconciler.HandleProviderEvent(ctx, payments.RawEvent{
		Provider: provider,
		Body:     body,
		Header:   r.Header.Clone(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAck{
		Status:      "ok",
		Outcome:     string(result.Outcome),
		OrderID:     result.OrderID,
		OrderStatus: string(result.Status),
	})
}
