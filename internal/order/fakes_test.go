package order_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

// memoryRepository is an in-memory order.Repository with the same
// compare-and-set semantics as the Postgres one.
type memoryRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*order.Order
	receipts map[uuid.UUID]order.Receipt
	seq      int

	createErr error
	getErr    error
	updates   int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		orders:   make(map[uuid.UUID]*order.Order),
		receipts: make(map[uuid.UUID]order.Receipt),
	}
}

func (r *memoryRepository) CreateOrder(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}

	now := time.Now().UTC().Add(time.Duration(r.seq) * time.Millisecond)
	r.seq++

	o.ID = uuid.Must(uuid.NewV4())
	o.CreatedAt = now
	o.UpdatedAt = now
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
		o.Items[i].CreatedAt = now
	}

	stored := cloneOrder(o)
	for i := range stored.Items {
		stored.Items[i].Name = ""
	}
	r.orders[o.ID] = stored
	return nil
}

func (r *memoryRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return nil, r.getErr
	}

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	out := cloneOrder(o)
	if receipt, ok := r.receipts[id]; ok {
		out.Receipt = &receipt
	}
	return out, nil
}

func (r *memoryRepository) ListOrders(_ context.Context, params order.ListParams) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matching := r.filter(params.Status)
	out := make([]order.Order, 0, params.Limit)
	for i := params.Offset(); i < len(matching) && len(out) < params.Limit; i++ {
		o := cloneOrder(matching[i])
		o.Items = nil
		out = append(out, *o)
	}
	return out, nil
}

func (r *memoryRepository) CountOrders(_ context.Context, status *order.Status) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.filter(status)), nil
}

func (r *memoryRepository) UpdateOrderStatus(_ context.Context, id uuid.UUID, from, to order.Status) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return time.Time{}, order.ErrOrderNotFound
	}
	if o.Status != from {
		return time.Time{}, order.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.updates++
	return o.UpdatedAt, nil
}

func (r *memoryRepository) MarkOrderPaid(_ context.Context, event order.PaidEvent, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[event.OrderID]
	if !ok || o.Status != order.StatusPending {
		return false, nil
	}
	if _, ok := r.receipts[event.OrderID]; ok {
		return false, nil
	}

	paidAt = paidAt.UTC()
	chargeID := event.PaymentID
	o.Status = order.StatusPaid
	o.Paid = true
	o.PaidAt = &paidAt
	o.PaymentChargeID = &chargeID
	o.UpdatedAt = paidAt
	r.receipts[event.OrderID] = order.Receipt{OrderID: event.OrderID, ReceiptURL: event.ReceiptURL, CreatedAt: paidAt}
	r.updates++
	return true, nil
}

// put stores o as is, bypassing CreateOrder.
func (r *memoryRepository) put(o *order.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = cloneOrder(o)
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memoryRepository) receiptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receipts)
}

func (r *memoryRepository) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *memoryRepository) filter(status *order.Status) []*order.Order {
	matching := make([]*order.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if status == nil || o.Status == *status {
			matching = append(matching, o)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].CreatedAt.Before(matching[j].CreatedAt)
	})
	return matching
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]order.OrderItem(nil), o.Items...)
	}
	if o.Receipt != nil {
		receipt := *o.Receipt
		c.Receipt = &receipt
	}
	return &c
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ValidateProducts(ctx context.Context, ids []string) ([]order.Product, error) {
	args := m.Called(ctx, ids)
	products, _ := args.Get(0).([]order.Product)
	return products, args.Error(1)
}

type mockPayment struct {
	mock.Mock
}

func (m *mockPayment) CreatePaymentSession(ctx context.Context, req order.PaymentSessionRequest) (order.PaymentSession, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(order.PaymentSession)
	return session, args.Error(1)
}

func product(id, name string, price int64) order.Product {
	return order.Product{ID: id, Name: name, Price: decimal.NewFromInt(price)}
}

var testSession = order.PaymentSession(json.RawMessage(`{"url":"https://pay.example/session/1"}`))
