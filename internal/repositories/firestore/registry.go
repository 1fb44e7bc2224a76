package firestore

import (
	"context"
	"time"

	pfirestore "github.com/sneakvault/orders/internal/platform/firestore"
	"github.com/sneakvault/orders/internal/repositories"
)

// Registry exposes Firestore-backed repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore repository registry.
func NewRegistry(provider *pfirestore.Provider, orderCollection string, clock func() time.Time) (*Registry, error) {
	orders, err := NewOrderRepository(provider, orderCollection, clock)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
