package services

import (
	"context"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	Order          = domain.Order
	OrderStatus    = domain.OrderStatus
	OrderItem      = domain.OrderItem
	Customer       = domain.Customer
	PaymentMethod  = domain.PaymentMethod
	PaymentStatus  = domain.PaymentStatus
	PaymentDetails = domain.PaymentDetails
	InvoiceRef     = domain.InvoiceRef
)

// OrderLifecycle is the only writer of an order's status and payment status.
type OrderLifecycle interface {
	CreateOrder(ctx context.Context, spec OrderSpec) (Order, error)
	RequestTransition(ctx context.Context, orderID string, req TransitionRequest) (TransitionResult, error)
	// AttachInvoice records the hosted invoice on an order still awaiting payment. Status fields are untouched.
	AttachInvoice(ctx context.Context, orderID string, invoice InvoiceRef) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// WebhookReconciler turns provider callbacks into lifecycle transitions.
type WebhookReconciler interface {
	HandleProviderEvent(ctx context.Context, raw payments.RawEvent) (HandledResult, error)
	// ReconcileOutcome applies an already-authenticated provider outcome. The sweep uses it for
	// statuses fetched directly from the provider.
	ReconcileOutcome(ctx context.Context, provider string, event payments.ProviderEvent) (HandledResult, error)
}

// OrderIntake accepts new orders and starts their fulfillment path.
type OrderIntake interface {
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (SubmitOrderResult, error)
}

// PaymentSweeper polls the provider for online orders whose callback never arrived.
type PaymentSweeper interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// Notifier sends customer notifications. Implementations swallow and log their own failures.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order Order)
	SendPaymentConfirmation(ctx context.Context, order Order)
}

// GatewayResolver looks up payment gateways by provider name.
type GatewayResolver interface {
	Get(name string) (payments.Gateway, error)
	Default() payments.Gateway
}

// OutcomeRecorder counts webhook outcomes.
type OutcomeRecorder interface {
	WebhookOutcome(ctx context.Context, provider, outcome string)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the payload published for order.created and order.status.changed.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	PaymentStatus  string    `json:"paymentStatus"`
	PaymentMethod  string    `json:"paymentMethod"`
	TotalAmount    int64     `json:"totalAmount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// OrderSpec is the validated input to CreateOrder.
type OrderSpec struct {
	Customer      Customer
	Items         []OrderItem
	TotalAmount   int64
	Currency      string
	PaymentMethod PaymentMethod
	Notes         string
}

// TransitionEvent names a payment outcome fed to the state machine.
type TransitionEvent string

const (
	EventPaymentConfirmed TransitionEvent = "payment_confirmed"
	EventPaymentFailed    TransitionEvent = "payment_failed"
)

// PaymentConfirmation carries provider details recorded on a confirmed payment.
type PaymentConfirmation struct {
	TransactionID  string
	ProviderMethod string
}

// TransitionRequest asks the lifecycle engine to apply an event.
type TransitionRequest struct {
	Event   TransitionEvent
	Payment *PaymentConfirmation
}

// TransitionResult reports whether the event changed the order. Order is the state after the call.
type TransitionResult struct {
	Applied bool
	Order   Order
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status        []OrderStatus
	PaymentMethod PaymentMethod
	Pagination    Pagination
}

// ReconcileOutcome classifies a handled provider event.
type ReconcileOutcome string

const (
	OutcomeApplied          ReconcileOutcome = "applied"
	OutcomeAlreadyProcessed ReconcileOutcome = "already_processed"
	OutcomeIgnored          ReconcileOutcome = "ignored"
)

// HandledResult is returned for every accepted provider event.
type HandledResult struct {
	Outcome ReconcileOutcome
	OrderID string
	Status  OrderStatus
}

// SubmitOrderRequest is the customer-facing order form.
type SubmitOrderRequest struct {
	Customer      Customer
	Items         []OrderItem
	TotalAmount   int64
	PaymentMethod PaymentMethod
	Notes         string
}

// SubmitOrderResult carries the created order and, for online orders, the hosted payment page.
type SubmitOrderResult struct {
	Order      Order
	InvoiceURL string
}

// SweepReport summarises one pass of the payment sweep.
type SweepReport struct {
	Checked          int
	Applied          int
	AlreadyProcessed int
	StillPending     int
	Errors           int
}
