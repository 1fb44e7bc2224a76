package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/services"
)

// writeServiceError maps service sentinels onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		details := map[string]any{}
		if len(verr.Fields) > 0 {
			details["fields"] = verr.Fields
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).WithDetails(details))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnauthorizedEvent):
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized_event", "event signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidEvent):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("store_timeout", "order store timed out", http.StatusGatewayTimeout))
	case errors.Is(err, services.ErrStore):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
