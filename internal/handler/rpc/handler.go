package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/messaging"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/validation"
)

var (
	CreateOrder         = messaging.StringPattern("create_order")
	FindAllOrders       = messaging.StringPattern("find_all_orders")
	FindOneOrder        = messaging.StringPattern("find_one_order")
	ChangeOrderStatus   = messaging.StringPattern("change_order_status")
	RetryPaymentSession = messaging.StringPattern("retry_payment_session")
	PaymentSucceeded    = messaging.StringPattern("payment.succeeded")
)

// Route binds a request pattern to its handler.
type Route struct {
	Pattern messaging.Pattern
	Handle  messaging.HandlerFunc
}

// Bus is the part of the messaging connection the handlers register on.
type Bus interface {
	Handle(ctx context.Context, p messaging.Pattern, queue string, h messaging.HandlerFunc) error
	Subscribe(ctx context.Context, p messaging.Pattern, queue string, h messaging.EventHandlerFunc) error
}

// PaymentReconciler is implemented by *order.Reconciler.
type PaymentReconciler interface {
	OnPaymentSucceeded(ctx context.Context, event order.PaidEvent) error
}

type Handler struct {
	service    order.Service
	reconciler PaymentReconciler
	validate   *validation.Validator
	metrics    *metrics.Metrics
}

func NewHandler(service order.Service, reconciler PaymentReconciler, m *metrics.Metrics) *Handler {
	return &Handler{
		service:    service,
		reconciler: reconciler,
		validate:   validation.New(),
		metrics:    m,
	}
}

func (h *Handler) Routes() []Route {
	return []Route{
		{Pattern: CreateOrder, Handle: h.observe(CreateOrder, h.handleCreateOrder)},
		{Pattern: FindAllOrders, Handle: h.observe(FindAllOrders, h.handleFindAllOrders)},
		{Pattern: FindOneOrder, Handle: h.observe(FindOneOrder, h.handleFindOneOrder)},
		{Pattern: ChangeOrderStatus, Handle: h.observe(ChangeOrderStatus, h.handleChangeOrderStatus)},
		{Pattern: RetryPaymentSession, Handle: h.observe(RetryPaymentSession, h.handleRetryPaymentSession)},
	}
}

// Register serves every request pattern on bus. When subscribeEvents is set
// payment.succeeded is consumed from the bus as well.
func (h *Handler) Register(ctx context.Context, bus Bus, queue string, subscribeEvents bool) error {
	for _, route := range h.Routes() {
		if err := bus.Handle(ctx, route.Pattern, queue, route.Handle); err != nil {
			return err
		}
		log.Info().Str("pattern", route.Pattern.String()).Str("queue", queue).Msg("rpc: pattern registered")
	}

	if subscribeEvents {
		if err := bus.Subscribe(ctx, PaymentSucceeded, queue, h.HandlePaymentSucceeded); err != nil {
			return err
		}
		log.Info().Str("pattern", PaymentSucceeded.String()).Str("queue", queue).Msg("rpc: event subscribed")
	}
	return nil
}

func (h *Handler) observe(p messaging.Pattern, next messaging.HandlerFunc) messaging.HandlerFunc {
	return func(ctx context.Context, data json.RawMessage) (any, error) {
		start := time.Now()
		defer h.metrics.ObserveRPC(p.String(), start)

		res, err := next(ctx, data)
		if err != nil {
			return nil, toRemoteError(err)
		}
		return res, nil
	}
}

func (h *Handler) handleCreateOrder(ctx context.Context, data json.RawMessage) (any, error) {
	var req validation.CreateOrderRequest
	if err := h.validate.Bind(data, &req); err != nil {
		return nil, err
	}
	return h.service.Create(ctx, req.ItemRequests())
}

func (h *Handler) handleFindAllOrders(ctx context.Context, data json.RawMessage) (any, error) {
	var req validation.PaginationRequest
	if err := h.validate.Bind(data, &req); err != nil {
		return nil, err
	}
	return h.service.FindAll(ctx, req.Params())
}

func (h *Handler) handleFindOneOrder(ctx context.Context, data json.RawMessage) (any, error) {
	var req validation.OrderIDRequest
	if err := h.validate.Bind(data, &req); err != nil {
		return nil, err
	}
	return h.service.FindOne(ctx, req.OrderID())
}

func (h *Handler) handleChangeOrderStatus(ctx context.Context, data json.RawMessage) (any, error) {
	var req validation.StatusRequest
	if err := h.validate.Bind(data, &req); err != nil {
		return nil, err
	}
	return h.service.ChangeStatus(ctx, req.OrderID(), order.Status(req.Status))
}

func (h *Handler) handleRetryPaymentSession(ctx context.Context, data json.RawMessage) (any, error) {
	var req validation.OrderIDRequest
	if err := h.validate.Bind(data, &req); err != nil {
		return nil, err
	}
	return h.service.RetryPaymentSession(ctx, req.OrderID())
}

// HandlePaymentSucceeded consumes a payment.succeeded event from either
// transport.
func (h *Handler) HandlePaymentSucceeded(ctx context.Context, data json.RawMessage) error {
	var req validation.PaidOrderRequest
	if err := h.validate.Bind(data, &req); err != nil {
		log.Warn().Err(err).RawJSON("payload", compact(data)).Msg("rpc: rejecting malformed payment event")
		return err
	}

	if err := h.reconciler.OnPaymentSucceeded(ctx, req.Event()); err != nil {
		return fmt.Errorf("payment event for order %s: %w", req.OrderID, err)
	}
	return nil
}

// RetryableEvent reports whether a failed payment event should be delivered
// again. Malformed events and orders that can no longer be paid are final;
// an unknown order may not be committed yet, and anything else is treated as
// a transient dependency failure.
func RetryableEvent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, order.ErrValidation), errors.Is(err, order.ErrInvalidStatusTransition):
		return false
	default:
		return true
	}
}

// toRemoteError maps domain errors to the {status, message} reply. Creation
// failures never expose their cause.
func toRemoteError(err error) *messaging.RemoteError {
	switch {
	case errors.Is(err, order.ErrCreationFailed):
		return messaging.NewRemoteError(http.StatusBadRequest, "Check logs")
	case errors.Is(err, order.ErrValidation):
		return messaging.NewRemoteError(http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrOrderNotFound):
		return messaging.NewRemoteError(http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidStatusTransition), errors.Is(err, order.ErrStatusConflict):
		return messaging.NewRemoteError(http.StatusConflict, err.Error())
	}

	var remote *messaging.RemoteError
	if errors.As(err, &remote) {
		return remote
	}

	log.Error().Err(err).Msg("rpc: unexpected error")
	return messaging.NewRemoteError(http.StatusInternalServerError, "internal error")
}

func compact(data json.RawMessage) []byte {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
