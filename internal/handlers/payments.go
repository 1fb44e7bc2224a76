package handlers

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/sneakvault/orders/internal/platform/httpx"
)

// PaymentsInfo describes the configured payment setup. It never carries credentials.
type PaymentsInfo struct {
	Configured      bool
	Mode            string
	Store           string
	DefaultProvider string
	Providers       []string
}

type paymentsStatusPayload struct {
	Configured      bool     `json:"configured"`
	Mode            string   `json:"mode"`
	Store           string   `json:"store"`
	DefaultProvider string   `json:"default_provider,omitempty"`
	Providers       []string `json:"providers"`
}

// PaymentStatusHandlers lets the storefront decide whether to offer online payment.
type PaymentStatusHandlers struct {
	info PaymentsInfo
}

// NewPaymentStatusHandlers constructs PaymentStatusHandlers.
func NewPaymentStatusHandlers(info PaymentsInfo) *PaymentStatusHandlers {
	info.Providers = slices.Clone(info.Providers)
	if info.Mode == "" {
		info.Mode = "test"
	}
	return &PaymentStatusHandlers{info: info}
}

// Routes registers the /payments endpoints.
func (h *PaymentStatusHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/status", h.status)
}

func (h *PaymentStatusHandlers) status(w http.ResponseWriter, _ *http.Request) {
	providers := h.info.Providers
	if providers == nil {
		providers = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, paymentsStatusPayload{
		Configured:      h.info.Configured && len(providers) > 0,
		Mode:            h.info.Mode,
		Store:           h.info.Store,
		DefaultProvider: h.info.DefaultProvider,
		Providers:       providers,
	})
}
