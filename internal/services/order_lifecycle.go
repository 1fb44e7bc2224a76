package services

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/pagination"
	"github.com/sneakvault/orders/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix   = "CMD-"
	defaultCurrency = "XOF"
)

var tracer = otel.Tracer("github.com/sneakvault/orders/internal/services")

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// OrderLifecycleDeps bundles collaborators required to construct the lifecycle engine.
type OrderLifecycleDeps struct {
	Orders           repositories.OrderRepository
	Clock            func() time.Time
	IDGenerator      func() string
	Events           OrderEventPublisher
	OperationTimeout time.Duration
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycle struct {
	orders    repositories.OrderRepository
	clock     func() time.Time
	newID     func() string
	events    OrderEventPublisher
	opTimeout time.Duration
	logger    func(context.Context, string, map[string]any)
}

// NewOrderLifecycle wires dependencies into the lifecycle engine.
func NewOrderLifecycle(deps OrderLifecycleDeps) (OrderLifecycle, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("order lifecycle: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderLifecycle{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		opTimeout: deps.OperationTimeout,
		logger:    logger,
	}, nil
}

func (s *orderLifecycle) CreateOrder(ctx context.Context, spec OrderSpec) (Order, error) {
	ctx, span := tracer.Start(ctx, "OrderLifecycle.CreateOrder",
		trace.WithAttributes(attribute.String("order.payment_method", string(spec.PaymentMethod))))
	defer span.End()

	if err := validateOrderSpec(spec).err(); err != nil {
		return Order{}, err
	}

	now := s.clock()
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		Customer:      normaliseCustomer(spec.Customer),
		Items:         normaliseItems(spec.Items),
		TotalAmount:   spec.TotalAmount,
		Currency:      strings.ToUpper(strings.TrimSpace(spec.Currency)),
		PaymentMethod: spec.PaymentMethod,
		Notes:         strings.TrimSpace(spec.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.Currency == "" {
		order.Currency = defaultCurrency
	}
	switch spec.PaymentMethod {
	case domain.PaymentMethodCashOnDelivery:
		order.Status = domain.OrderStatusPending
		order.PaymentStatus = domain.PaymentStatusCashOnDelivery
	case domain.PaymentMethodOnlineGateway:
		order.Status = domain.OrderStatusAwaitingPayment
		order.PaymentStatus = domain.PaymentStatusPending
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.orders.Create(storeCtx, order); err != nil {
		mapped := mapRepositoryError(err)
		recordSpanError(span, mapped)
		return Order{}, mapped
	}

	s.publishEvent(ctx, orderEventCreated, "", order)
	s.logger(ctx, "order.created", map[string]any{
		"orderId":       order.ID,
		"paymentMethod": string(order.PaymentMethod),
		"totalAmount":   order.TotalAmount,
	})
	return order, nil
}

func (s *orderLifecycle) RequestTransition(ctx context.Context, orderID string, req TransitionRequest) (TransitionResult, error) {
	orderID = strings.TrimSpace(orderID)
	ctx, span := tracer.Start(ctx, "OrderLifecycle.RequestTransition", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.event", string(req.Event)),
	))
	defer span.End()

	if orderID == "" {
		return TransitionResult{}, &ValidationError{Fields: map[string]string{"orderId": "is required"}}
	}
	if req.Event != EventPaymentConfirmed && req.Event != EventPaymentFailed {
		return TransitionResult{}, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, req.Event)
	}

	current, err := s.get(ctx, orderID)
	if err != nil {
		recordSpanError(span, err)
		return TransitionResult{}, err
	}
	if current.PaymentMethod == domain.PaymentMethodCashOnDelivery {
		return TransitionResult{}, fmt.Errorf("%w: %s is a cash on delivery order", ErrInvalidEvent, orderID)
	}
	if current.Status != domain.OrderStatusAwaitingPayment {
		span.SetAttributes(attribute.Bool("order.applied", false))
		return TransitionResult{Applied: false, Order: current}, nil
	}

	now := s.clock()
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	updated, err := s.orders.ConditionalUpdate(storeCtx, orderID, domain.OrderStatusAwaitingPayment, func(order *domain.Order) error {
		switch req.Event {
		case EventPaymentConfirmed:
			details := PaymentDetails{PaidAt: now}
			if req.Payment != nil {
				details.TransactionID = strings.TrimSpace(req.Payment.TransactionID)
				details.ProviderMethod = strings.TrimSpace(req.Payment.ProviderMethod)
			}
			order.Status = domain.OrderStatusPaid
			order.PaymentStatus = domain.PaymentStatusPaid
			order.PaymentDetails = &details
		case EventPaymentFailed:
			order.Status = domain.OrderStatusPaymentFailed
			order.PaymentStatus = domain.PaymentStatusFailed
			order.PaymentDetails = nil
		}
		return nil
	})
	if err != nil {
		if !isConflict(err) {
			mapped := mapRepositoryError(err)
			recordSpanError(span, mapped)
			return TransitionResult{}, mapped
		}
		latest, getErr := s.get(ctx, orderID)
		if getErr != nil {
			recordSpanError(span, getErr)
			return TransitionResult{}, getErr
		}
		if latest.Status == domain.OrderStatusAwaitingPayment {
			// The store gave up without the status moving; the caller has to retry.
			mapped := mapRepositoryError(err)
			recordSpanError(span, mapped)
			return TransitionResult{}, mapped
		}
		s.logger(ctx, "order.transition.lost_race", map[string]any{
			"orderId": orderID,
			"event":   string(req.Event),
			"status":  string(latest.Status),
		})
		span.SetAttributes(attribute.Bool("order.applied", false))
		return TransitionResult{Applied: false, Order: latest}, nil
	}

	span.SetAttributes(attribute.Bool("order.applied", true))
	s.publishEvent(ctx, orderEventStatusChanged, current.Status, updated)
	s.logger(ctx, "order.transition.applied", map[string]any{
		"orderId":        orderID,
		"event":          string(req.Event),
		"previousStatus": string(current.Status),
		"status":         string(updated.Status),
	})
	return TransitionResult{Applied: true, Order: updated}, nil
}

func (s *orderLifecycle) AttachInvoice(ctx context.Context, orderID string, invoice InvoiceRef) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || strings.TrimSpace(invoice.Token) == "" {
		return Order{}, &ValidationError{Fields: map[string]string{"invoice": "order id and token are required"}}
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = s.clock()
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	updated, err := s.orders.ConditionalUpdate(storeCtx, orderID, domain.OrderStatusAwaitingPayment, func(order *domain.Order) error {
		ref := invoice
		order.Invoice = &ref
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return updated, nil
}

func (s *orderLifecycle) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, &ValidationError{Fields: map[string]string{"orderId": "is required"}}
	}
	return s.get(ctx, orderID)
}

func (s *orderLifecycle) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	fields := fieldErrors{}
	if len(filter.Status) > repositories.MaxStatusFilter {
		fields.add("status", fmt.Sprintf("must list at most %d statuses", repositories.MaxStatusFilter))
	}
	statuses := make([]OrderStatus, 0, len(filter.Status))
	for _, status := range filter.Status {
		if !status.Valid() {
			fields.add("status", fmt.Sprintf("unknown status %q", status))
			continue
		}
		if !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		fields.add("payment_method", fmt.Sprintf("unknown payment method %q", filter.PaymentMethod))
	}
	if _, err := pagination.DecodeToken(filter.Pagination.PageToken); err != nil {
		fields.add("page_token", "is invalid")
	}
	if err := fields.err(); err != nil {
		return domain.CursorPage[Order]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	pageSize = min(pageSize, pagination.DefaultMaxPageSize)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	page, err := s.orders.List(storeCtx, repositories.OrderListFilter{
		Status:        statuses,
		PaymentMethod: filter.PaymentMethod,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: filter.Pagination.PageToken,
		},
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderLifecycle) get(ctx context.Context, orderID string) (Order, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	order, err := s.orders.Get(storeCtx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderLifecycle) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *orderLifecycle) publishEvent(ctx context.Context, eventType string, previous domain.OrderStatus, order Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		OccurredAt:     s.clock(),
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func validateOrderSpec(spec OrderSpec) fieldErrors {
	fields := fieldErrors{}
	customer := spec.Customer
	if strings.TrimSpace(customer.Name) == "" {
		fields.add("customer.name", "is required")
	}
	if phone := compactPhone(customer.Phone); phone == "" {
		fields.add("customer.phone", "is required")
	} else if !phonePattern.MatchString(phone) {
		fields.add("customer.phone", "is not a valid phone number")
	}
	if email := strings.TrimSpace(customer.Email); email == "" {
		fields.add("customer.email", "is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		fields.add("customer.email", "is not a valid email address")
	}
	if strings.TrimSpace(customer.Address) == "" {
		fields.add("customer.address", "is required")
	}
	if strings.TrimSpace(customer.City) == "" {
		fields.add("customer.city", "is required")
	}

	switch {
	case len(spec.Items) == 0:
		fields.add("items", "must contain at least one item")
	case len(spec.Items) > domain.MaxOrderItems:
		fields.add("items", fmt.Sprintf("must contain at most %d items", domain.MaxOrderItems))
	}
	for i, item := range spec.Items {
		prefix := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			fields.add(prefix+".name", "is required")
		}
		switch {
		case item.UnitPrice < 0:
			fields.add(prefix+".unit_price", "must not be negative")
		case item.UnitPrice > domain.MaxUnitPrice:
			fields.add(prefix+".unit_price", fmt.Sprintf("must not exceed %d", domain.MaxUnitPrice))
		}
		switch {
		case item.Quantity < 1:
			fields.add(prefix+".quantity", "must be at least 1")
		case item.Quantity > domain.MaxItemQuantity:
			fields.add(prefix+".quantity", fmt.Sprintf("must not exceed %d", domain.MaxItemQuantity))
		}
	}
	if spec.TotalAmount < 0 {
		fields.add("total_amount", "must not be negative")
	}
	if _, ok := (domain.Order{Items: spec.Items}).CheckedItemsTotal(); !ok {
		fields.add("total_amount", "item totals overflow")
	}
	if !spec.PaymentMethod.Valid() {
		fields.add("payment_method", "must be cash_on_delivery or online_gateway")
	}
	return fields
}

func normaliseCustomer(c Customer) Customer {
	return Customer{
		Name:    strings.TrimSpace(c.Name),
		Phone:   compactPhone(c.Phone),
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
		Address: strings.TrimSpace(c.Address),
		City:    strings.TrimSpace(c.City),
	}
}

func normaliseItems(items []OrderItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItem{
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ImageRef:  strings.TrimSpace(item.ImageRef),
		})
	}
	return out
}

func compactPhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
