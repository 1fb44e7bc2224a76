package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const metricNamespace = "github.com/sneakvault/orders"

// Metrics holds the service counters. A nil *Metrics or an instrument that failed to register
// records nothing.
type Metrics struct {
	webhookOutcomes      metric.Int64Counter
	notificationFailures metric.Int64Counter
	oidcVerifications    metric.Int64Counter
}

// NewMetrics registers the counters on meter, or on the global meter provider when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}

	var err error
	if m.webhookOutcomes, err = meter.Int64Counter(
		"orders.webhook.outcomes",
		metric.WithDescription("Payment webhook deliveries by provider and outcome"),
	); err != nil {
		logger.Warn("metrics: unable to register webhook outcome counter", zap.Error(err))
		m.webhookOutcomes = nil
	}
	if m.notificationFailures, err = meter.Int64Counter(
		"orders.notifications.failures",
		metric.WithDescription("Notification sends that failed, by channel and kind"),
	); err != nil {
		logger.Warn("metrics: unable to register notification failure counter", zap.Error(err))
		m.notificationFailures = nil
	}
	if m.oidcVerifications, err = meter.Int64Counter(
		"orders.oidc.verifications",
		metric.WithDescription("OIDC token verifications on internal endpoints"),
	); err != nil {
		logger.Warn("metrics: unable to register oidc counter", zap.Error(err))
		m.oidcVerifications = nil
	}
	return m
}

// WebhookOutcome counts a handled or rejected webhook delivery.
func (m *Metrics) WebhookOutcome(ctx context.Context, provider, outcome string) {
	if m == nil || m.webhookOutcomes == nil {
		return
	}
	m.webhookOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

// NotificationFailure counts a failed email or SMS send.
func (m *Metrics) NotificationFailure(ctx context.Context, channel, kind string) {
	if m == nil || m.notificationFailures == nil {
		return
	}
	m.notificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("kind", kind),
	))
}

// OIDCVerification matches auth.VerificationRecorder.
func (m *Metrics) OIDCVerification(ctx context.Context, success bool, reason string) {
	if m == nil || m.oidcVerifications == nil {
		return
	}
	m.oidcVerifications.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	))
}
