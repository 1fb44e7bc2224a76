// Package memory provides an in-process order store for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/pagination"
	"github.com/sneakvault/orders/internal/repositories"
)

// OrderRepository keeps orders in a map guarded by a RWMutex. Reads and writes hand out clones so
// callers can never alias stored state.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	now    func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Option customises the memory repository.
type Option func(*OrderRepository)

// WithClock overrides the timestamp source used for CreatedAt/UpdatedAt.
func WithClock(clock func() time.Time) Option {
	return func(r *OrderRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewOrderRepository constructs an empty store.
func NewOrderRepository(opts ...Option) *OrderRepository {
	repo := &OrderRepository{
		orders: make(map[string]domain.Order),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewStoreError("memory.orders.get", repositories.StoreErrorNotFound, nil)
	}
	return order.Clone(), nil
}

func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("memory.orders.create: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewStoreError("memory.orders.create", repositories.StoreErrorConflict, fmt.Errorf("order %s already exists", order.ID))
	}
	now := r.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) ConditionalUpdate(ctx context.Context, orderID string, expected domain.OrderStatus, mutate repositories.OrderMutation) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if mutate == nil {
		return domain.Order{}, errors.New("memory.orders.conditional_update: mutation is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewStoreError("memory.orders.conditional_update", repositories.StoreErrorNotFound, nil)
	}
	if current.Status != expected {
		return domain.Order{}, repositories.NewStoreError("memory.orders.conditional_update", repositories.StoreErrorConflict,
			fmt.Errorf("status is %s, expected %s", current.Status, expected))
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return domain.Order{}, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = r.now().UTC()
	r.orders[next.ID] = next.Clone()
	return next, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if !matches(order, filter) {
			continue
		}
		matched = append(matched, order.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, compareNewestFirst)

	start := 0
	if !cursor.IsZero() {
		start = len(matched)
		for i, order := range matched {
			if isAfterCursor(order, cursor) {
				start = i
				break
			}
		}
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	page := domain.CursorPage[domain.Order]{Items: matched[start:end]}
	if end < len(matched) && end > start {
		last := matched[end-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func matches(order domain.Order, filter repositories.OrderListFilter) bool {
	if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
		return false
	}
	if filter.PaymentMethod != "" && order.PaymentMethod != filter.PaymentMethod {
		return false
	}
	if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}
	if filter.HasInvoice && !order.HasInvoice() {
		return false
	}
	return true
}

func compareNewestFirst(a, b domain.Order) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

func isAfterCursor(order domain.Order, cursor pagination.Cursor) bool {
	if order.CreatedAt.Before(cursor.CreatedAt) {
		return true
	}
	return order.CreatedAt.Equal(cursor.CreatedAt) && order.ID < cursor.ID
}

// Registry exposes the in-memory repositories.
type Registry struct {
	orders *OrderRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs a memory-backed registry.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{orders: NewOrderRepository(opts...)}
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Close(context.Context) error { return nil }
