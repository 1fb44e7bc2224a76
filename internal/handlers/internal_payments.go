package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sneakvault/orders/internal/platform/auth"
	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/platform/requestctx"
	"github.com/sneakvault/orders/internal/services"
)

type sweepReportPayload struct {
	Checked          int `json:"checked"`
	Applied          int `json:"applied"`
	AlreadyProcessed int `json:"already_processed"`
	StillPending     int `json:"still_pending"`
	Errors           int `json:"errors"`
}

// InternalPaymentHandlers exposes scheduler-triggered payment maintenance under /internal.
type InternalPaymentHandlers struct {
	sweeper services.PaymentSweeper
}

// NewInternalPaymentHandlers constructs InternalPaymentHandlers.
func NewInternalPaymentHandlers(sweeper services.PaymentSweeper) *InternalPaymentHandlers {
	return &InternalPaymentHandlers{sweeper: sweeper}
}

// Routes registers the internal payment endpoints. Authentication is applied by the router group.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reconcile", h.reconcile)
}

func (h *InternalPaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		serviceUnavailable(ctx, w, "reconcile")
		return
	}

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	fields := []zap.Field{
		zap.Int("checked", report.Checked),
		zap.Int("applied", report.Applied),
		zap.Int("errors", report.Errors),
	}
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok && identity != nil {
		fields = append(fields, zap.String("caller", identity.Email))
	}
	requestctx.Logger(ctx).Info("payment sweep completed", fields...)

	httpx.WriteJSON(w, http.StatusOK, sweepReportPayload{
		Checked:          report.Checked,
		Applied:          report.Applied,
		AlreadyProcessed: report.AlreadyProcessed,
		StillPending:     report.StillPending,
		Errors:           report.Errors,
	})
}
