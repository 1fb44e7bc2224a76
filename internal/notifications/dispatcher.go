package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/observability"
	"github.com/sneakvault/orders/internal/platform/requestctx"
)

const (
	channelEmail = "email"
	channelSMS   = "sms"

	kindOrderConfirmation   = "order_confirmation"
	kindPaymentConfirmation = "payment_confirmation"
)

// FailureRecorder counts failed deliveries per channel and message kind.
type FailureRecorder interface {
	NotificationFailure(ctx context.Context, channel, kind string)
}

// NotificationError describes one failed delivery attempt.
type NotificationError struct {
	Channel string
	Kind    string
	OrderID string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s %s for order %s: %v", e.Channel, e.Kind, e.OrderID, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// DispatcherDeps wires the delivery channels. Either channel may be nil to disable it.
type DispatcherDeps struct {
	Email   EmailSender
	SMS     SMSSender
	Images  ImageResolver
	Shop    Shop
	Metrics FailureRecorder
	Logger  *zap.Logger
}

// Dispatcher renders and delivers customer notifications over email and SMS.
// A failure on one channel never prevents the other from being attempted, and
// delivery failures are logged and counted rather than returned.
type Dispatcher struct {
	email    EmailSender
	sms      SMSSender
	renderer *renderer
	metrics  FailureRecorder
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	shop := deps.Shop
	if strings.TrimSpace(shop.Name) == "" {
		shop.Name = "SneakVault"
	}
	shop.FrontendURL = strings.TrimRight(strings.TrimSpace(shop.FrontendURL), "/")
	d := &Dispatcher{
		email:   deps.Email,
		sms:     deps.SMS,
		metrics: deps.Metrics,
		logger:  logger.Named("notifications"),
	}
	d.renderer = newRenderer(shop, deps.Images, d.logImageFailure)
	return d
}

// SendOrderConfirmation notifies the customer that their order was received.
func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, order domain.Order) {
	d.dispatch(ctx, order, kindOrderConfirmation,
		d.renderer.orderConfirmationEmail,
		d.renderer.orderConfirmationSMS,
	)
}

// SendPaymentConfirmation notifies the customer that their payment was confirmed.
func (d *Dispatcher) SendPaymentConfirmation(ctx context.Context, order domain.Order) {
	d.dispatch(ctx, order, kindPaymentConfirmation,
		d.renderer.paymentConfirmationEmail,
		d.renderer.paymentConfirmationSMS,
	)
}

func (d *Dispatcher) dispatch(
	ctx context.Context,
	order domain.Order,
	kind string,
	email func(context.Context, domain.Order) (EmailMessage, error),
	sms func(domain.Order) string,
) {
	if d.email != nil && strings.TrimSpace(order.Customer.Email) != "" {
		if err := d.sendEmail(ctx, order, email); err != nil {
			d.fail(ctx, observability.MaskEmail(order.Customer.Email), &NotificationError{Channel: channelEmail, Kind: kind, OrderID: order.ID, Err: err})
		}
	}
	if d.sms != nil && strings.TrimSpace(order.Customer.Phone) != "" {
		if err := d.sms.SendSMS(ctx, order.Customer.Phone, sms(order)); err != nil {
			d.fail(ctx, observability.MaskPhone(order.Customer.Phone), &NotificationError{Channel: channelSMS, Kind: kind, OrderID: order.ID, Err: err})
		}
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, order domain.Order, render func(context.Context, domain.Order) (EmailMessage, error)) error {
	msg, err := render(ctx, order)
	if err != nil {
		return err
	}
	if msg.To == "" {
		return errors.New("missing recipient")
	}
	return d.email.SendEmail(ctx, msg)
}

func (d *Dispatcher) fail(ctx context.Context, recipient string, nerr *NotificationError) {
	if d.metrics != nil {
		d.metrics.NotificationFailure(ctx, nerr.Channel, nerr.Kind)
	}
	requestctx.LoggerOr(ctx, d.logger).Warn("notification delivery failed",
		zap.String("channel", nerr.Channel),
		zap.String("kind", nerr.Kind),
		zap.String("order_id", nerr.OrderID),
		zap.String("recipient", recipient),
		zap.Error(nerr.Err),
	)
}

func (d *Dispatcher) logImageFailure(ctx context.Context, ref string, err error) {
	requestctx.LoggerOr(ctx, d.logger).Debug("notification image unavailable",
		zap.String("image_ref", ref),
		zap.Error(err),
	)
}
