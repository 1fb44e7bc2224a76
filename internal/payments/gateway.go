// Package payments adapts hosted payment providers to a single Gateway contract: invoice
// creation, webhook verification and parsing, and invoice status lookup.
package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sneakvault/orders/internal/platform/textutil"
)

// Provider names used in webhook routes and stored on invoices.
const (
	ProviderPayDunya = "paydunya"
	ProviderStripe   = "stripe"
)

var (
	// ErrUnsupportedProvider is returned when no gateway is registered under a name.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrMalformedEvent is returned when a webhook body cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed event")
	// ErrInvoiceRejected is returned when the provider refuses to create or confirm an invoice.
	ErrInvoiceRejected = errors.New("payments: invoice rejected by provider")
)

// Logger is the structured logging contract shared with the services layer.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// EventStatus is the provider payment status normalised across gateways.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusCompleted EventStatus = "completed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusExpired   EventStatus = "expired"
)

// NormaliseStatus maps provider vocabulary onto EventStatus. Unknown values are returned
// lower-cased so callers can log them.
func NormaliseStatus(raw string) EventStatus {
	switch value := strings.ToLower(strings.TrimSpace(raw)); value {
	case "completed", "complete", "paid", "succeeded", "success":
		return EventStatusCompleted
	case "failed", "failure":
		return EventStatusFailed
	case "cancelled", "canceled":
		return EventStatusCancelled
	case "expired":
		return EventStatusExpired
	case "pending", "open", "unpaid", "processing":
		return EventStatusPending
	default:
		return EventStatus(value)
	}
}

// InvoiceItem is one purchased line shown on the hosted payment page.
type InvoiceItem struct {
	Name        string
	Description string
	UnitPrice   int64
	Quantity    int
}

// InvoiceMetadata travels with the invoice and comes back on webhooks.
type InvoiceMetadata struct {
	OrderID string
	Store   string
}

// Values returns the metadata as provider custom data, omitting blank entries.
func (m InvoiceMetadata) Values() map[string]string {
	return textutil.NormalizeStringMap(map[string]string{
		"order_id": m.OrderID,
		"store":    m.Store,
	})
}

// InvoiceRequest describes the hosted invoice to create. Amounts are in the currency's major unit.
type InvoiceRequest struct {
	Amount      int64
	Currency    string
	Description string
	Items       []InvoiceItem
	CallbackURL string
	ReturnURL   string
	CancelURL   string
	Metadata    InvoiceMetadata
}

// Invoice is the provider's reference to a created invoice.
type Invoice struct {
	URL   string
	Token string
}

// RawEvent is an inbound webhook exactly as received.
type RawEvent struct {
	Provider string
	Body     []byte
	Header   http.Header
}

// ProviderEvent is a verified webhook reduced to the fields reconciliation needs.
type ProviderEvent struct {
	Status        EventStatus
	RawStatus     string
	OrderID       string
	TransactionID string
	Method        string
	InvoiceToken  string
}

// InvoiceStatus is the result of asking the provider about an invoice.
type InvoiceStatus struct {
	Status        EventStatus
	RawStatus     string
	OrderID       string
	TransactionID string
	Method        string
}

// Gateway is implemented by each hosted payment provider.
type Gateway interface {
	Name() string
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
	// VerifyEvent reports whether the event is authentic. It never errors; anything that cannot be
	// verified is false.
	VerifyEvent(ctx context.Context, raw RawEvent) bool
	ParseEvent(ctx context.Context, raw RawEvent) (ProviderEvent, error)
	InvoiceStatus(ctx context.Context, token string) (InvoiceStatus, error)
}
