package domain

import (
	"math"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PaymentMethod selects the fulfillment path of an order. It never changes after creation.
type PaymentMethod string

const (
	// PaymentMethodCashOnDelivery settles the order in cash when it is handed over.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentMethodOnlineGateway settles the order through a hosted invoice.
	PaymentMethodOnlineGateway PaymentMethod = "online_gateway"
)

// Valid reports whether the payment method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCashOnDelivery, PaymentMethodOnlineGateway:
		return true
	default:
		return false
	}
}

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of cash-on-delivery orders.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAwaitingPayment is the initial state of online orders until the provider reports back.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPaid indicates the provider confirmed the payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaymentFailed indicates the provider reported a failed or abandoned payment.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

// Valid reports whether the status is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingPayment, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status transition is accepted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// PaymentStatus tracks settlement of an order independently of its fulfillment status.
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusCashOnDelivery PaymentStatus = "cash_on_delivery"
	PaymentStatusFailed         PaymentStatus = "failed"
)

// Order is the central record tracking a customer purchase through payment and fulfillment.
type Order struct {
	ID             string
	Customer       Customer
	Items          []OrderItem
	TotalAmount    int64
	Currency       string
	PaymentMethod  PaymentMethod
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentDetails *PaymentDetails
	Invoice        *InvoiceRef
	Shipping       *Shipping
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Customer holds the contact and delivery details captured at intake.
type Customer struct {
	Name    string
	Phone   string
	Email   string
	Address string
	City    string
}

// OrderItem is a single purchased line. Prices are expressed in the order currency's major unit.
type OrderItem struct {
	Name      string
	UnitPrice int64
	Quantity  int
	ImageRef  string
}

// Intake bounds. They keep every line total and order total far inside int64.
const (
	MaxUnitPrice    int64 = 100_000_000
	MaxItemQuantity       = 10_000
	MaxOrderItems         = 100
)

// LineTotal returns UnitPrice multiplied by Quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// CheckedLineTotal is LineTotal with overflow detection. Negative inputs are reported as invalid.
func (i OrderItem) CheckedLineTotal() (int64, bool) {
	if i.UnitPrice < 0 || i.Quantity < 0 {
		return 0, false
	}
	if i.Quantity != 0 && i.UnitPrice > math.MaxInt64/int64(i.Quantity) {
		return 0, false
	}
	return i.UnitPrice * int64(i.Quantity), true
}

// PaymentDetails records the provider confirmation. Present iff PaymentStatus is paid.
type PaymentDetails struct {
	TransactionID  string
	ProviderMethod string
	PaidAt         time.Time
}

// InvoiceRef references the hosted invoice created for an online order.
type InvoiceRef struct {
	Provider  string
	Token     string
	URL       string
	CreatedAt time.Time
}

// Shipping carries delivery tracking data maintained outside the payment lifecycle.
type Shipping struct {
	TrackingNumber string
	Carrier        string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// CheckedItemsTotal sums the line totals and reports false when any step would overflow int64.
func (o Order) CheckedItemsTotal() (int64, bool) {
	var total int64
	for _, item := range o.Items {
		line, ok := item.CheckedLineTotal()
		if !ok || total > math.MaxInt64-line {
			return 0, false
		}
		total += line
	}
	return total, true
}

// HasInvoice reports whether a hosted invoice was attached to the order.
func (o Order) HasInvoice() bool {
	return o.Invoice != nil && strings.TrimSpace(o.Invoice.Token) != ""
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.PaymentDetails != nil {
		details := *o.PaymentDetails
		out.PaymentDetails = &details
	}
	if o.Invoice != nil {
		invoice := *o.Invoice
		out.Invoice = &invoice
	}
	if o.Shipping != nil {
		shipping := *o.Shipping
		if o.Shipping.ShippedAt != nil {
			t := *o.Shipping.ShippedAt
			shipping.ShippedAt = &t
		}
		if o.Shipping.DeliveredAt != nil {
			t := *o.Shipping.DeliveredAt
			shipping.DeliveredAt = &t
		}
		out.Shipping = &shipping
	}
	return out
}
