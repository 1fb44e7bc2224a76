package repositories

import (
	"context"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation edits a copy of the stored order inside a conditional update. Returning an error
// aborts the write and the error is propagated unchanged.
type OrderMutation func(order *domain.Order) error

// OrderRepository is the durable order store keyed by order identifier.
//
// ConditionalUpdate is a compare-and-set on Status: the mutation is applied only when the stored
// status equals expected at commit time; otherwise a conflict RepositoryError is returned and
// nothing is written.
type OrderRepository interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	Create(ctx context.Context, order domain.Order) error
	ConditionalUpdate(ctx context.Context, orderID string, expected domain.OrderStatus, mutate OrderMutation) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Ping(ctx context.Context) error
}

// MaxStatusFilter is the most statuses one listing may filter on, the Firestore "in" limit.
const MaxStatusFilter = 10

// OrderListFilter narrows admin and sweep listings. Results are ordered by CreatedAt descending.
type OrderListFilter struct {
	Status        []domain.OrderStatus
	PaymentMethod domain.PaymentMethod
	CreatedBefore *time.Time
	// HasInvoice keeps only orders carrying a hosted invoice reference.
	HasInvoice bool
	Pagination domain.Pagination
}

// ReadinessChecker evaluates dependency probes for the readiness endpoint.
type ReadinessChecker interface {
	Check(ctx context.Context) domain.ReadinessReport
}
