package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/platform/textutil"
)

const (
	maxNotesLength   = 500
	defaultStoreName = "SneakVault"
	webhookRoutePath = "/api/v1/webhooks/payments/"
)

// ShopIdentity carries the storefront values embedded in invoices and redirect URLs.
type ShopIdentity struct {
	Name          string
	FrontendURL   string
	PublicBaseURL string
	Currency      string
}

// OrderIntakeDeps bundles collaborators required by the intake coordinator.
type OrderIntakeDeps struct {
	Lifecycle OrderLifecycle
	// Gateways may be nil when online payment is not configured; online orders are then refused.
	Gateways  GatewayResolver
	Notifier  Notifier
	Tasks     *BestEffort
	Shop      ShopIdentity
	Sanitizer *bluemonday.Policy
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderIntake struct {
	lifecycle OrderLifecycle
	gateways  GatewayResolver
	notifier  Notifier
	tasks     *BestEffort
	shop      ShopIdentity
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderIntake wires dependencies into an OrderIntake.
func NewOrderIntake(deps OrderIntakeDeps) (OrderIntake, error) {
	if deps.Lifecycle == nil {
		return nil, errors.New("order intake: lifecycle engine is required")
	}
	shop := deps.Shop
	shop.Name = strings.TrimSpace(shop.Name)
	if shop.Name == "" {
		shop.Name = defaultStoreName
	}
	shop.FrontendURL = strings.TrimRight(strings.TrimSpace(shop.FrontendURL), "/")
	shop.PublicBaseURL = strings.TrimRight(strings.TrimSpace(shop.PublicBaseURL), "/")
	if deps.Gateways != nil && (shop.FrontendURL == "" || shop.PublicBaseURL == "") {
		return nil, errors.New("order intake: frontend and public base URLs are required for online payment")
	}

	tasks := deps.Tasks
	if tasks == nil {
		tasks = NewBestEffort(0, nil)
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderIntake{
		lifecycle: deps.Lifecycle,
		gateways:  deps.Gateways,
		notifier:  deps.Notifier,
		tasks:     tasks,
		shop:      shop,
		sanitizer: sanitizer,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderIntake) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (SubmitOrderResult, error) {
	spec := OrderSpec{
		Customer:      req.Customer,
		Items:         req.Items,
		TotalAmount:   req.TotalAmount,
		Currency:      s.shop.Currency,
		PaymentMethod: req.PaymentMethod,
		Notes:         textutil.Truncate(s.sanitizer.Sanitize(req.Notes), maxNotesLength),
	}

	fields := validateOrderSpec(spec)
	if len(fields) == 0 {
		if sum, _ := (domain.Order{Items: spec.Items}).CheckedItemsTotal(); sum != spec.TotalAmount {
			fields.add("total_amount", fmt.Sprintf("must equal the sum of item totals (%d)", sum))
		}
	}
	if err := fields.err(); err != nil {
		return SubmitOrderResult{}, err
	}

	var gateway payments.Gateway
	if spec.PaymentMethod == domain.PaymentMethodOnlineGateway {
		if s.gateways != nil {
			gateway = s.gateways.Default()
		}
		if gateway == nil {
			return SubmitOrderResult{}, fmt.Errorf("%w: online payment is not configured", ErrGateway)
		}
	}

	order, err := s.lifecycle.CreateOrder(ctx, spec)
	if err != nil {
		return SubmitOrderResult{}, err
	}

	if gateway == nil {
		if s.notifier != nil {
			created := order
			s.tasks.Go(ctx, "notify.order_confirmation", func(ctx context.Context) error {
				s.notifier.SendOrderConfirmation(ctx, created)
				return nil
			})
		}
		return SubmitOrderResult{Order: order}, nil
	}

	invoice, err := gateway.CreateInvoice(ctx, s.invoiceRequest(order, gateway.Name()))
	if err != nil {
		s.logger(ctx, "order.invoice.failed", map[string]any{
			"orderId":  order.ID,
			"provider": gateway.Name(),
			"error":    err.Error(),
		})
		return SubmitOrderResult{Order: order}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	updated, err := s.lifecycle.AttachInvoice(ctx, order.ID, InvoiceRef{
		Provider:  gateway.Name(),
		Token:     invoice.Token,
		URL:       invoice.URL,
		CreatedAt: s.clock(),
	})
	if err != nil {
		s.logger(ctx, "order.invoice.attach_failed", map[string]any{
			"orderId": order.ID,
			"token":   invoice.Token,
			"error":   err.Error(),
		})
	} else {
		order = updated
	}
	return SubmitOrderResult{Order: order, InvoiceURL: invoice.URL}, nil
}

func (s *orderIntake) invoiceRequest(order Order, provider string) payments.InvoiceRequest {
	items := make([]payments.InvoiceItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.InvoiceItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return payments.InvoiceRequest{
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Commande %s #%s", s.shop.Name, order.ID),
		Items:       items,
		CallbackURL: s.shop.PublicBaseURL + webhookRoutePath + url.PathEscape(provider),
		ReturnURL:   s.shop.FrontendURL + "/order-confirmation?id=" + url.QueryEscape(order.ID),
		CancelURL:   s.shop.FrontendURL + "#contact",
		Metadata: payments.InvoiceMetadata{
			OrderID: order.ID,
			Store:   s.shop.Name,
		},
	}
}
