package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/metrics"
)

// PaymentCurrency is the only currency sessions are opened in.
const PaymentCurrency = "usd"

// PaymentSession is the opaque handle returned by the Payment service. It is
// passed through to the caller untouched.
type PaymentSession = json.RawMessage

type PaymentItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type PaymentSessionRequest struct {
	OrderID  uuid.UUID     `json:"orderId"`
	Currency string        `json:"currency"`
	Items    []PaymentItem `json:"items"`
}

// CatalogClient resolves product ids to their current price and name.
type CatalogClient interface {
	ValidateProducts(ctx context.Context, ids []string) ([]Product, error)
}

type PaymentClient interface {
	CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error)
}

type Service interface {
	Create(ctx context.Context, items []ItemRequest) (*CreateResult, error)
	FindAll(ctx context.Context, params ListParams) (*OrderPage, error)
	FindOne(ctx context.Context, id uuid.UUID) (*Order, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error)
	RetryPaymentSession(ctx context.Context, id uuid.UUID) (*CreateResult, error)
}

type service struct {
	repo    Repository
	catalog CatalogClient
	payment PaymentClient
	metrics *metrics.Metrics
}

func NewService(repo Repository, catalog CatalogClient, payment PaymentClient, m *metrics.Metrics) Service {
	return &service{
		repo:    repo,
		catalog: catalog,
		payment: payment,
		metrics: m,
	}
}

func (s *service) Create(ctx context.Context, items []ItemRequest) (*CreateResult, error) {
	if err := validateItems(items); err != nil {
		log.Warn().Err(err).Msg("service: rejected create request")
		s.metrics.OrderCreated(metrics.ResultFailure)
		return nil, err
	}

	saga := &createSaga{svc: s, requested: mergeItems(items)}
	if err := saga.run(ctx); err != nil {
		var creationErr *CreationError
		if errors.As(err, &creationErr) {
			event := log.Error().Err(creationErr.Cause).Str("step", creationErr.Step)
			if creationErr.OrderID != uuid.Nil {
				event = event.Stringer("order_id", creationErr.OrderID).Bool("persisted", true)
			}
			event.Msg("service: order creation failed")
		}
		s.metrics.OrderCreated(metrics.ResultFailure)
		return nil, err
	}

	s.metrics.OrderCreated(metrics.ResultSuccess)
	log.Info().
		Stringer("order_id", saga.order.ID).
		Stringer("total_amount", saga.order.TotalAmount).
		Int("total_items", saga.order.TotalItems).
		Msg("service: order created successfully")

	return &CreateResult{Order: saga.order, PaymentSession: saga.session}, nil
}

func (s *service) FindAll(ctx context.Context, params ListParams) (*OrderPage, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	total, err := s.repo.CountOrders(ctx, params.Status)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to count orders in repository")
		return nil, fmt.Errorf("service: failed to count orders: %w", err)
	}

	orders, err := s.repo.ListOrders(ctx, params)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	return &OrderPage{
		Data: orders,
		Meta: PageMeta{
			Total:    total,
			Page:     params.Page,
			LastPage: LastPage(total, params.Limit),
		},
	}, nil
}

func (s *service) FindOne(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.rehydrateNames(ctx, order); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to resolve item names")
		return nil, fmt.Errorf("service: failed to resolve item names for order %s: %w", id, err)
	}

	return order, nil
}

func (s *service) ChangeStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error) {
	if !status.IsValid() {
		s.metrics.StatusChanged(metrics.ResultRejected)
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrValidation)
	}

	order, err := s.getOrder(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			s.metrics.StatusChanged(metrics.ResultNotFound)
		}
		return nil, err
	}

	if order.Status == status {
		log.Info().Stringer("order_id", id).Stringer("status", status).Msg("service: order status is already the same, no update needed")
		s.metrics.StatusChanged(metrics.ResultNoop)
		if err := s.rehydrateNames(ctx, order); err != nil {
			log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to resolve item names")
			return nil, fmt.Errorf("service: failed to resolve item names for order %s: %w", id, err)
		}
		return order, nil
	}

	if !CanTransition(order.Status, status) {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", order.Status).
			Stringer("new_status", status).
			Msg("service: invalid status transition attempt")
		s.metrics.StatusChanged(metrics.ResultRejected)
		return nil, fmt.Errorf("service: cannot change order %s from %s to %s: %w", id, order.Status, status, ErrInvalidStatusTransition)
	}

	updatedAt, err := s.repo.UpdateOrderStatus(ctx, id, order.Status, status)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			s.metrics.StatusChanged(metrics.ResultNotFound)
			return nil, notFound(id)
		case errors.Is(err, ErrStatusConflict):
			log.Warn().Stringer("order_id", id).Stringer("expected_status", order.Status).Msg("service: order status changed concurrently")
			s.metrics.StatusChanged(metrics.ResultRejected)
			return nil, fmt.Errorf("service: order %s is no longer %s: %w", id, order.Status, ErrStatusConflict)
		}
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", status).Msg("service: failed to update order status in repository")
		s.metrics.StatusChanged(metrics.ResultFailure)
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", order.Status).Stringer("new_status", status).Msg("service: order status updated successfully")
	s.metrics.StatusChanged(metrics.ResultSuccess)

	order.Status = status
	order.UpdatedAt = updatedAt

	// The status is already written; without names the items are left out.
	if err := s.rehydrateNames(ctx, order); err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("service: status updated but item names could not be resolved")
		order.Items = nil
	}
	return order, nil
}

func (s *service) RetryPaymentSession(ctx context.Context, id uuid.UUID) (*CreateResult, error) {
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status != StatusPending {
		return nil, fmt.Errorf("service: order %s is %s, payment session requires %s: %w", id, order.Status, StatusPending, ErrInvalidStatusTransition)
	}

	if err := s.rehydrateNames(ctx, order); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to resolve item names for payment session")
		return nil, fmt.Errorf("service: failed to resolve item names for order %s: %w", id, err)
	}

	session, err := s.paymentSession(ctx, order)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to create payment session")
		return nil, err
	}

	log.Info().Stringer("order_id", id).Msg("service: payment session created for existing order")
	return &CreateResult{Order: order, PaymentSession: session}, nil
}

func (s *service) getOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, notFound(id)
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return order, nil
}

// rehydrateNames fills item names from one catalog call.
func (s *service) rehydrateNames(ctx context.Context, order *Order) error {
	if len(order.Items) == 0 {
		return nil
	}

	ids := productIDs(order.Items, func(i OrderItem) string { return i.ProductID })
	products, err := s.catalog.ValidateProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("catalog: %w: %w", ErrDependencyUnavailable, err)
	}

	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	for i := range order.Items {
		name, ok := names[order.Items[i].ProductID]
		if !ok {
			return fmt.Errorf("product %s: %w", order.Items[i].ProductID, ErrCatalogMismatch)
		}
		order.Items[i].Name = name
	}
	return nil
}

func (s *service) paymentSession(ctx context.Context, order *Order) (PaymentSession, error) {
	req := PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: PaymentCurrency,
		Items:    make([]PaymentItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, PaymentItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	session, err := s.payment.CreatePaymentSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("payment: %w: %w", ErrDependencyUnavailable, err)
	}
	return session, nil
}

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("order must contain at least one item: %w", ErrValidation)
	}
	for _, item := range items {
		if item.ProductID == "" {
			return fmt.Errorf("product id in order item cannot be empty: %w", ErrValidation)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("order item quantity for product %s must be greater than zero: %w", item.ProductID, ErrValidation)
		}
	}
	return nil
}
