package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/pagination"
	pfirestore "github.com/sneakvault/orders/internal/platform/firestore"
	"github.com/sneakvault/orders/internal/repositories"
)

const defaultOrderCollection = "orders"

// OrderRepository persists orders in Firestore. Conditional updates run inside a transaction that
// re-reads the document and compares its status before writing.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
	now  func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, collection string, clock func() time.Time) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultOrderCollection
	}
	if clock == nil {
		clock = time.Now
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, collection),
		now:  clock,
	}, nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	now := r.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

func (r *OrderRepository) ConditionalUpdate(ctx context.Context, orderID string, expected domain.OrderStatus, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutation is required")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.conditional_update", err)
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		current := doc.Data.toDomain(doc.ID)
		if current.Status != expected {
			return pfirestore.ConflictError("orders.conditional_update",
				fmt.Errorf("status is %s, expected %s", current.Status, expected))
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = r.now().UTC()

		if err := tx.Set(ref, fromDomainOrder(next)); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	fetchLimit := limit + 1

	if len(filter.Status) > repositories.MaxStatusFilter {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: at most %d statuses per listing, got %d", repositories.MaxStatusFilter, len(filter.Status))
	}
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
		if filter.PaymentMethod != "" {
			q = q.Where("paymentMethod", "==", string(filter.PaymentMethod))
		}
		if filter.HasInvoice {
			q = q.Where("hasInvoice", "==", true)
		}
		if filter.CreatedBefore != nil {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.Data.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// Ping issues a single-document read to confirm the backend is reachable.
func (r *OrderRepository) Ping(ctx context.Context) error {
	_, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Limit(1)
	})
	return err
}

type orderDocument struct {
	Customer       customerDocument        `firestore:"customer"`
	Items          []orderItemDocument     `firestore:"items"`
	TotalAmount    int64                   `firestore:"totalAmount"`
	Currency       string                  `firestore:"currency"`
	PaymentMethod  string                  `firestore:"paymentMethod"`
	Status         string                  `firestore:"status"`
	PaymentStatus  string                  `firestore:"paymentStatus"`
	PaymentDetails *paymentDetailsDocument `firestore:"paymentDetails,omitempty"`
	Invoice        *invoiceDocument        `firestore:"invoice,omitempty"`
	HasInvoice     bool                    `firestore:"hasInvoice"`
	Shipping       *shippingDocument       `firestore:"shipping,omitempty"`
	Notes          string                  `firestore:"notes,omitempty"`
	CreatedAt      time.Time               `firestore:"createdAt"`
	UpdatedAt      time.Time               `firestore:"updatedAt"`
}

type customerDocument struct {
	Name    string `firestore:"name"`
	Phone   string `firestore:"phone"`
	Email   string `firestore:"email"`
	Address string `firestore:"address"`
	City    string `firestore:"city"`
}

type orderItemDocument struct {
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	ImageRef  string `firestore:"imageRef,omitempty"`
}

type paymentDetailsDocument struct {
	TransactionID  string    `firestore:"transactionId"`
	ProviderMethod string    `firestore:"providerMethod"`
	PaidAt         time.Time `firestore:"paidAt"`
}

type invoiceDocument struct {
	Provider  string    `firestore:"provider"`
	Token     string    `firestore:"token"`
	URL       string    `firestore:"url"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type shippingDocument struct {
	TrackingNumber string     `firestore:"trackingNumber"`
	Carrier        string     `firestore:"carrier"`
	ShippedAt      *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `firestore:"deliveredAt,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Customer: customerDocument{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Email:   order.Customer.Email,
			Address: order.Customer.Address,
			City:    order.Customer.City,
		},
		Items:         make([]orderItemDocument, 0, len(order.Items)),
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		PaymentMethod: string(order.PaymentMethod),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		HasInvoice:    order.HasInvoice(),
		Notes:         order.Notes,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ImageRef:  item.ImageRef,
		})
	}
	if d := order.PaymentDetails; d != nil {
		doc.PaymentDetails = &paymentDetailsDocument{
			TransactionID:  d.TransactionID,
			ProviderMethod: d.ProviderMethod,
			PaidAt:         d.PaidAt.UTC(),
		}
	}
	if inv := order.Invoice; inv != nil {
		doc.Invoice = &invoiceDocument{
			Provider:  inv.Provider,
			Token:     inv.Token,
			URL:       inv.URL,
			CreatedAt: inv.CreatedAt.UTC(),
		}
	}
	if s := order.Shipping; s != nil {
		doc.Shipping = &shippingDocument{
			TrackingNumber: s.TrackingNumber,
			Carrier:        s.Carrier,
			ShippedAt:      s.ShippedAt,
			DeliveredAt:    s.DeliveredAt,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID: id,
		Customer: domain.Customer{
			Name:    d.Customer.Name,
			Phone:   d.Customer.Phone,
			Email:   d.Customer.Email,
			Address: d.Customer.Address,
			City:    d.Customer.City,
		},
		Items:         make([]domain.OrderItem, 0, len(d.Items)),
		TotalAmount:   d.TotalAmount,
		Currency:      d.Currency,
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ImageRef:  item.ImageRef,
		})
	}
	if p := d.PaymentDetails; p != nil {
		order.PaymentDetails = &domain.PaymentDetails{
			TransactionID:  p.TransactionID,
			ProviderMethod: p.ProviderMethod,
			PaidAt:         p.PaidAt,
		}
	}
	if inv := d.Invoice; inv != nil {
		order.Invoice = &domain.InvoiceRef{
			Provider:  inv.Provider,
			Token:     inv.Token,
			URL:       inv.URL,
			CreatedAt: inv.CreatedAt,
		}
	}
	if s := d.Shipping; s != nil {
		order.Shipping = &domain.Shipping{
			TrackingNumber: s.TrackingNumber,
			Carrier:        s.Carrier,
			ShippedAt:      s.ShippedAt,
			DeliveredAt:    s.DeliveredAt,
		}
	}
	return order
}
