package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/repositories"
)

const (
	defaultSweepStaleAfter = 15 * time.Minute
	defaultSweepBatchSize  = 50
	defaultSweepMaxPages   = 5
)

// PaymentSweeperDeps bundles collaborators required by the sweep.
type PaymentSweeperDeps struct {
	Orders     repositories.OrderRepository
	Reconciler WebhookReconciler
	Gateways   GatewayResolver
	StaleAfter time.Duration
	BatchSize  int
	// MaxPages bounds how many BatchSize pages one pass reads. The next pass resumes after the
	// last page read, so orders deeper in the backlog are reached over successive passes.
	MaxPages int
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentSweeper struct {
	orders     repositories.OrderRepository
	reconciler WebhookReconciler
	gateways   GatewayResolver
	staleAfter time.Duration
	batchSize  int
	maxPages   int
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)

	mu     sync.Mutex
	cursor string
}

// NewPaymentSweeper wires dependencies into a PaymentSweeper.
func NewPaymentSweeper(deps PaymentSweeperDeps) (PaymentSweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment sweeper: order repository is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("payment sweeper: reconciler is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment sweeper: gateway resolver is required")
	}
	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultSweepStaleAfter
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	maxPages := deps.MaxPages
	if maxPages <= 0 {
		maxPages = defaultSweepMaxPages
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentSweeper{
		orders:     deps.Orders,
		reconciler: deps.Reconciler,
		gateways:   deps.Gateways,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		maxPages:   maxPages,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Sweep checks up to MaxPages pages of stale online orders with an invoice, continuing from where
// the previous pass stopped and wrapping to the newest stale order once the backlog is exhausted.
// Per-order failures are counted and logged; only a failure to list orders aborts the pass.
func (s *paymentSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "PaymentSweeper.Sweep")
	defer span.End()

	// The cursor is shared by the ticker and the internal endpoint.
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().UTC().Add(-s.staleAfter)
	var report SweepReport
	for pages := 0; pages < s.maxPages; pages++ {
		page, err := s.orders.List(ctx, repositories.OrderListFilter{
			Status:        []domain.OrderStatus{domain.OrderStatusAwaitingPayment},
			PaymentMethod: domain.PaymentMethodOnlineGateway,
			CreatedBefore: &cutoff,
			HasInvoice:    true,
			Pagination:    domain.Pagination{PageSize: s.batchSize, PageToken: s.cursor},
		})
		if err != nil {
			// Restart from the newest stale order on the next pass.
			s.cursor = ""
			mapped := mapRepositoryError(err)
			recordSpanError(span, mapped)
			return report, mapped
		}

		for _, order := range page.Items {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if !order.HasInvoice() {
				continue
			}
			report.Checked++
			s.checkOrder(ctx, order, &report)
		}

		s.cursor = page.NextPageToken
		if s.cursor == "" {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.checked", report.Checked),
		attribute.Int("sweep.applied", report.Applied),
		attribute.Int("sweep.errors", report.Errors),
	)
	s.logger(ctx, "payments.sweep.completed", map[string]any{
		"checked":          report.Checked,
		"applied":          report.Applied,
		"alreadyProcessed": report.AlreadyProcessed,
		"stillPending":     report.StillPending,
		"errors":           report.Errors,
		"resumes":          s.cursor != "",
	})
	return report, nil
}

func (s *paymentSweeper) checkOrder(ctx context.Context, order Order, report *SweepReport) {
	gateway, err := s.gateways.Get(order.Invoice.Provider)
	if err != nil {
		report.Errors++
		s.logger(ctx, "payments.sweep.unknown_provider", map[string]any{
			"orderId":  order.ID,
			"provider": order.Invoice.Provider,
		})
		return
	}

	status, err := gateway.InvoiceStatus(ctx, order.Invoice.Token)
	if err != nil {
		report.Errors++
		s.logger(ctx, "payments.sweep.status_failed", map[string]any{
			"orderId":  order.ID,
			"provider": gateway.Name(),
			"error":    err.Error(),
		})
		return
	}

	event := payments.ProviderEvent{
		Status:        status.Status,
		RawStatus:     status.RawStatus,
		OrderID:       order.ID,
		TransactionID: status.TransactionID,
		Method:        status.Method,
		InvoiceToken:  order.Invoice.Token,
	}
	if status.OrderID != "" && status.OrderID != order.ID {
		report.Errors++
		s.logger(ctx, "payments.sweep.order_mismatch", map[string]any{
			"orderId":        order.ID,
			"invoiceOrderId": status.OrderID,
		})
		return
	}

	result, err := s.reconciler.ReconcileOutcome(ctx, gateway.Name(), event)
	if err != nil {
		report.Errors++
		s.logger(ctx, "payments.sweep.reconcile_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	switch result.Outcome {
	case OutcomeApplied:
		report.Applied++
	case OutcomeAlreadyProcessed:
		report.AlreadyProcessed++
	default:
		report.StillPending++
	}
}
