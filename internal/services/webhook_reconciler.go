package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/platform/requestctx"
)

// WebhookReconcilerDeps bundles collaborators required by the reconciler.
type WebhookReconcilerDeps struct {
	Lifecycle OrderLifecycle
	Gateways  GatewayResolver
	Notifier  Notifier
	Tasks     *BestEffort
	Metrics   OutcomeRecorder
	// AuditLogger receives rejected-event warnings when the request carries no logger.
	AuditLogger *zap.Logger
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type webhookReconciler struct {
	lifecycle OrderLifecycle
	gateways  GatewayResolver
	notifier  Notifier
	tasks     *BestEffort
	metrics   OutcomeRecorder
	audit     *zap.Logger
	logger    func(context.Context, string, map[string]any)
}

// NewWebhookReconciler wires dependencies into a WebhookReconciler.
func NewWebhookReconciler(deps WebhookReconcilerDeps) (WebhookReconciler, error) {
	if deps.Lifecycle == nil {
		return nil, errors.New("webhook reconciler: lifecycle engine is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("webhook reconciler: gateway resolver is required")
	}
	tasks := deps.Tasks
	if tasks == nil {
		tasks = NewBestEffort(0, deps.AuditLogger)
	}
	audit := deps.AuditLogger
	if audit == nil {
		audit = zap.NewNop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookReconciler{
		lifecycle: deps.Lifecycle,
		gateways:  deps.Gateways,
		notifier:  deps.Notifier,
		tasks:     tasks,
		metrics:   deps.Metrics,
		audit:     audit,
		logger:    logger,
	}, nil
}

func (r *webhookReconciler) HandleProviderEvent(ctx context.Context, raw payments.RawEvent) (HandledResult, error) {
	provider := strings.ToLower(strings.TrimSpace(raw.Provider))
	ctx, span := tracer.Start(ctx, "WebhookReconciler.HandleProviderEvent",
		trace.WithAttributes(attribute.String("payment.provider", provider)))
	defer span.End()

	gateway, err := r.gateways.Get(provider)
	if err != nil {
		r.reject(ctx, provider, "unknown provider")
		return HandledResult{}, fmt.Errorf("%w: %v", ErrUnauthorizedEvent, err)
	}
	if !gateway.VerifyEvent(ctx, raw) {
		r.reject(ctx, provider, "verification failed")
		return HandledResult{}, fmt.Errorf("%w: %s signature did not verify", ErrUnauthorizedEvent, provider)
	}

	event, err := gateway.ParseEvent(ctx, raw)
	if err != nil {
		r.record(ctx, provider, "malformed")
		return HandledResult{}, &ValidationError{Fields: map[string]string{"payload": err.Error()}}
	}
	result, err := r.ReconcileOutcome(ctx, gateway.Name(), event)
	if err != nil {
		recordSpanError(span, err)
	}
	span.SetAttributes(attribute.String("webhook.outcome", string(result.Outcome)))
	return result, err
}

func (r *webhookReconciler) ReconcileOutcome(ctx context.Context, provider string, event payments.ProviderEvent) (HandledResult, error) {
	var transition TransitionEvent
	switch event.Status {
	case payments.EventStatusCompleted:
		transition = EventPaymentConfirmed
	case payments.EventStatusFailed, payments.EventStatusCancelled, payments.EventStatusExpired:
		transition = EventPaymentFailed
	default:
		r.record(ctx, provider, string(OutcomeIgnored))
		r.logger(ctx, "webhook.ignored", map[string]any{
			"provider": provider,
			"status":   event.RawStatus,
			"orderId":  event.OrderID,
		})
		return HandledResult{Outcome: OutcomeIgnored, OrderID: event.OrderID}, nil
	}

	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		r.record(ctx, provider, "malformed")
		return HandledResult{}, &ValidationError{Fields: map[string]string{"order_id": "event carries no order id"}}
	}
	if _, err := r.lifecycle.GetOrder(ctx, orderID); err != nil {
		r.record(ctx, provider, outcomeLabel(err))
		return HandledResult{}, err
	}

	result, err := r.lifecycle.RequestTransition(ctx, orderID, TransitionRequest{
		Event: transition,
		Payment: &PaymentConfirmation{
			TransactionID:  event.TransactionID,
			ProviderMethod: event.Method,
		},
	})
	if err != nil {
		r.record(ctx, provider, outcomeLabel(err))
		return HandledResult{}, err
	}

	handled := HandledResult{OrderID: orderID, Status: result.Order.Status}
	if !result.Applied {
		handled.Outcome = OutcomeAlreadyProcessed
		r.record(ctx, provider, string(handled.Outcome))
		r.logger(ctx, "webhook.already_processed", map[string]any{
			"provider": provider,
			"orderId":  orderID,
			"status":   string(result.Order.Status),
		})
		return handled, nil
	}

	handled.Outcome = OutcomeApplied
	r.record(ctx, provider, string(handled.Outcome))
	if transition == EventPaymentConfirmed && r.notifier != nil {
		order := result.Order
		r.tasks.Go(ctx, "notify.payment_confirmation", func(ctx context.Context) error {
			r.notifier.SendPaymentConfirmation(ctx, order)
			return nil
		})
	}
	return handled, nil
}

func (r *webhookReconciler) reject(ctx context.Context, provider, reason string) {
	r.record(ctx, provider, "unauthorized")
	requestctx.LoggerOr(ctx, r.audit).Warn("payment webhook rejected",
		zap.String("provider", provider),
		zap.String("reason", reason),
		zap.String("remote_ip", requestctx.RemoteIP(ctx)),
	)
}

func (r *webhookReconciler) record(ctx context.Context, provider, outcome string) {
	if r.metrics != nil {
		r.metrics.WebhookOutcome(ctx, provider, outcome)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
