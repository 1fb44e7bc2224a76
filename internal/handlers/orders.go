package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/services"
)

const maxOrderBodySize = 64 * 1024

type orderItemRequest struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	ImageRef  string `json:"image_ref"`
}

type customerPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
}

type createOrderRequest struct {
	Customer      customerPayload    `json:"customer"`
	Items         []orderItemRequest `json:"items"`
	TotalAmount   int64              `json:"total_amount"`
	PaymentMethod string             `json:"payment_method"`
	Notes         string             `json:"notes"`
}

type orderItemPayload struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
	ImageRef  string `json:"image_ref,omitempty"`
}

type paymentPayload struct {
	TransactionID  string `json:"transaction_id"`
	ProviderMethod string `json:"provider_method,omitempty"`
	PaidAt         string `json:"paid_at"`
}

type invoicePayload struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

type shippingPayload struct {
	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	ShippedAt      string `json:"shipped_at,omitempty"`
	DeliveredAt    string `json:"delivered_at,omitempty"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	PaymentMethod string             `json:"payment_method"`
	TotalAmount   int64              `json:"total_amount"`
	Currency      string             `json:"currency"`
	Customer      customerPayload    `json:"customer"`
	Items         []orderItemPayload `json:"items"`
	Notes         string             `json:"notes,omitempty"`
	Payment       *paymentPayload    `json:"payment,omitempty"`
	Invoice       *invoicePayload    `json:"invoice,omitempty"`
	Shipping      *shippingPayload   `json:"shipping,omitempty"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
}

type createOrderResponse struct {
	Order      orderPayload `json:"order"`
	InvoiceURL string       `json:"invoice_url,omitempty"`
}

// OrderHandlers exposes the public order endpoints used by the storefront.
type OrderHandlers struct {
	intake      services.OrderIntake
	orders      services.OrderLifecycle
	createGuard []func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCreateMiddlewares wraps only POST /orders, e.g. with idempotency replay or rate limiting.
func WithCreateMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.createGuard = append(h.createGuard, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(intake services.OrderIntake, orders services.OrderLifecycle, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{intake: intake, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.createGuard...).Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.intake == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var body createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &body); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	req := services.SubmitOrderRequest{
		Customer: domain.Customer{
			Name:    body.Customer.Name,
			Phone:   body.Customer.Phone,
			Email:   body.Customer.Email,
			Address: body.Customer.Address,
			City:    body.Customer.City,
		},
		Items:         make([]domain.OrderItem, 0, len(body.Items)),
		TotalAmount:   body.TotalAmount,
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(strings.ToLower(body.PaymentMethod))),
		Notes:         body.Notes,
	}
	for _, item := range body.Items {
		req.Items = append(req.Items, domain.OrderItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ImageRef:  item.ImageRef,
		})
	}

	result, err := h.intake.SubmitOrder(ctx, req)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		Order:      buildOrderPayload(result.Order),
		InvoiceURL: result.InvoiceURL,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		Customer: customerPayload{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Email:   order.Customer.Email,
			Address: order.Customer.Address,
			City:    order.Customer.City,
		},
		Items:     make([]orderItemPayload, 0, len(order.Items)),
		Notes:     order.Notes,
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
			ImageRef:  item.ImageRef,
		})
	}
	if details := order.PaymentDetails; details != nil {
		payload.Payment = &paymentPayload{
			TransactionID:  details.TransactionID,
			ProviderMethod: details.ProviderMethod,
			PaidAt:         formatTime(details.PaidAt),
		}
	}
	if inv := order.Invoice; inv != nil {
		payload.Invoice = &invoicePayload{Provider: inv.Provider, URL: inv.URL}
	}
	if ship := order.Shipping; ship != nil {
		payload.Shipping = &shippingPayload{
			TrackingNumber: ship.TrackingNumber,
			Carrier:        ship.Carrier,
			ShippedAt:      formatTimePtr(ship.ShippedAt),
			DeliveredAt:    formatTimePtr(ship.DeliveredAt),
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
