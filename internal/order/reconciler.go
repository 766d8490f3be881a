package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/metrics"
)

// Reconciler applies payment-succeeded notifications to orders. It keeps no
// in-memory state: idempotence comes from the conditional write in
// Repository.MarkOrderPaid, so any number of instances may consume the same
// event stream.
type Reconciler struct {
	repo    Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReconciler(repo Repository, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		repo:    repo,
		metrics: m,
		now:     time.Now,
	}
}

// OnPaymentSucceeded moves a PENDING order to PAID and attaches the receipt.
// A redelivered event for an order that was already paid is a no-op. An event
// for an unknown order fails with ErrOrderNotFound, and one for an order in any
// other state fails with ErrInvalidStatusTransition.
func (r *Reconciler) OnPaymentSucceeded(ctx context.Context, event PaidEvent) error {
	if event.OrderID == uuid.Nil || event.PaymentID == "" {
		r.metrics.PaymentReconciled(metrics.ResultRejected)
		return fmt.Errorf("payment event requires order id and payment id: %w", ErrValidation)
	}

	applied, err := r.repo.MarkOrderPaid(ctx, event, r.now())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", event.OrderID).Str("payment_id", event.PaymentID).Msg("reconciler: failed to mark order paid")
		r.metrics.PaymentReconciled(metrics.ResultFailure)
		return fmt.Errorf("reconciler: failed to mark order %s paid: %w", event.OrderID, err)
	}
	if applied {
		log.Info().Stringer("order_id", event.OrderID).Str("payment_id", event.PaymentID).Msg("reconciler: order marked as paid")
		r.metrics.PaymentReconciled(metrics.ResultApplied)
		return nil
	}

	// Nothing was written; find out why.
	order, err := r.repo.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", event.OrderID).Str("payment_id", event.PaymentID).Msg("reconciler: payment for unknown order")
			r.metrics.PaymentReconciled(metrics.ResultNotFound)
			return notFound(event.OrderID)
		}
		r.metrics.PaymentReconciled(metrics.ResultFailure)
		return fmt.Errorf("reconciler: failed to load order %s: %w", event.OrderID, err)
	}

	// paid survives later DELIVERED/CANCELLED transitions.
	if order.Paid {
		sameCharge := order.PaymentChargeID != nil && *order.PaymentChargeID == event.PaymentID
		log.Info().
			Stringer("order_id", event.OrderID).
			Str("payment_id", event.PaymentID).
			Bool("same_charge", sameCharge).
			Msg("reconciler: order already paid, ignoring duplicate event")
		r.metrics.PaymentReconciled(metrics.ResultDuplicate)
		return nil
	}

	log.Warn().
		Stringer("order_id", event.OrderID).
		Str("payment_id", event.PaymentID).
		Stringer("status", order.Status).
		Msg("reconciler: payment received for order that is not pending")
	r.metrics.PaymentReconciled(metrics.ResultRejected)
	return fmt.Errorf("reconciler: order %s is %s: %w", event.OrderID, order.Status, ErrInvalidStatusTransition)
}
