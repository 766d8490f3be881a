package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

func TestReconciler_OnPaymentSucceeded(t *testing.T) {
	repo := newMemoryRepository()
	m := metrics.New(prometheus.NewRegistry())
	reconciler := order.NewReconciler(repo, m)

	id := uuid.Must(uuid.NewV4())
	repo.put(&order.Order{ID: id, Status: order.StatusPending, TotalItems: 1})
	event := order.PaidEvent{OrderID: id, PaymentID: "pay_1", ReceiptURL: "u"}

	require.NoError(t, reconciler.OnPaymentSucceeded(context.Background(), event))

	paid, err := repo.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	assert.True(t, paid.Paid)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.PaymentChargeID)
	assert.Equal(t, "pay_1", *paid.PaymentChargeID)
	require.NotNil(t, paid.Receipt)
	assert.Equal(t, "u", paid.Receipt.ReceiptURL)

	// Redelivery.
	require.NoError(t, reconciler.OnPaymentSucceeded(context.Background(), event))

	again, err := repo.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, *paid.PaidAt, *again.PaidAt)
	assert.Equal(t, 1, repo.receiptCount())
	assert.Equal(t, 1, repo.writes())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsReconciled.WithLabelValues(metrics.ResultApplied)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsReconciled.WithLabelValues(metrics.ResultDuplicate)))
}

func TestReconciler_ConcurrentDelivery(t *testing.T) {
	repo := newMemoryRepository()
	reconciler := order.NewReconciler(repo, nil)

	id := uuid.Must(uuid.NewV4())
	repo.put(&order.Order{ID: id, Status: order.StatusPending})
	event := order.PaidEvent{OrderID: id, PaymentID: "pay_1", ReceiptURL: "u"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- reconciler.OnPaymentSucceeded(context.Background(), event)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, repo.receiptCount())
	assert.Equal(t, 1, repo.writes())
}

func TestReconciler_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  order.Status
		paid    bool
		event   func(id uuid.UUID) order.PaidEvent
		wantErr error
	}{
		{
			name: "unknown_order",
			event: func(uuid.UUID) order.PaidEvent {
				return order.PaidEvent{OrderID: uuid.Must(uuid.NewV4()), PaymentID: "pay_1"}
			},
			wantErr: order.ErrOrderNotFound,
		},
		{
			name:    "cancelled_order",
			status:  order.StatusCancelled,
			event:   func(id uuid.UUID) order.PaidEvent { return order.PaidEvent{OrderID: id, PaymentID: "pay_1"} },
			wantErr: order.ErrInvalidStatusTransition,
		},
		{
			name:   "delivered_after_payment_is_duplicate",
			status: order.StatusDelivered,
			paid:   true,
			event:  func(id uuid.UUID) order.PaidEvent { return order.PaidEvent{OrderID: id, PaymentID: "pay_1"} },
		},
		{
			name:    "missing_payment_id",
			status:  order.StatusPending,
			event:   func(id uuid.UUID) order.PaidEvent { return order.PaidEvent{OrderID: id} },
			wantErr: order.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepository()
			reconciler := order.NewReconciler(repo, nil)
			id := uuid.Must(uuid.NewV4())
			if tt.status != "" {
				repo.put(&order.Order{ID: id, Status: tt.status, Paid: tt.paid})
			}

			err := reconciler.OnPaymentSucceeded(context.Background(), tt.event(id))
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
			assert.Equal(t, 0, repo.receiptCount())
			assert.Equal(t, 0, repo.writes())
		})
	}
}
