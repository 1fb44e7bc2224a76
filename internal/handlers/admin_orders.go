package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/auth"
	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/services"
)

var defaultAdminRoles = []string{auth.RoleStaff, auth.RoleAdmin}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// AdminOrderHandlers serves the back-office order listing.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderLifecycle
	roles  []string
}

// NewAdminOrderHandlers constructs AdminOrderHandlers. Without roles, staff and admin are accepted.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderLifecycle, roles ...string) *AdminOrderHandlers {
	if len(roles) == 0 {
		roles = defaultAdminRoles
	}
	return &AdminOrderHandlers{authn: authn, orders: orders, roles: roles}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(h.roles...))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(query.Get("payment_method"))),
		Pagination: services.Pagination{
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	for _, raw := range parseFilterValues(query["status"]) {
		filter.Status = append(filter.Status, domain.OrderStatus(raw))
	}
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		filter.Pagination.PageSize = size
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListPayload{Items: items, NextPageToken: page.NextPageToken})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

// parseFilterValues accepts repeated and comma-separated query values.
func parseFilterValues(raw []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
