package order

import (
	"context"
	"errors"
	"fmt"
)

const (
	stepValidateProducts = "validate_products"
	stepPrice            = "price"
	stepPersist          = "persist"
	stepPaymentSession   = "payment_session"
)

// sagaStep is one fallible stage of the create pipeline.
type sagaStep struct {
	name string
	run  func(ctx context.Context) error
}

// createSaga carries the data produced by each step to the next one.
type createSaga struct {
	svc *service

	requested []ItemRequest
	products  []Product
	quote     Quote
	order     *Order
	session   PaymentSession
}

func (s *createSaga) steps() []sagaStep {
	return []sagaStep{
		{name: stepValidateProducts, run: s.validateProducts},
		{name: stepPrice, run: s.price},
		{name: stepPersist, run: s.persist},
		{name: stepPaymentSession, run: s.requestPaymentSession},
	}
}

// run executes the steps in order and stops at the first failure. There is no
// compensation: only persist writes, and it is atomic on its own.
func (s *createSaga) run(ctx context.Context) error {
	for _, step := range s.steps() {
		if err := ctx.Err(); err != nil {
			return s.fail(step.name, err)
		}
		if err := step.run(ctx); err != nil {
			return s.fail(step.name, err)
		}
	}
	return nil
}

func (s *createSaga) fail(step string, cause error) *CreationError {
	err := &CreationError{Step: step, Cause: cause}
	if s.order != nil {
		err.OrderID = s.order.ID
	}
	return err
}

func (s *createSaga) validateProducts(ctx context.Context) error {
	ids := productIDs(s.requested, func(i ItemRequest) string { return i.ProductID })

	products, err := s.svc.catalog.ValidateProducts(ctx, ids)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return err
		}
		return fmt.Errorf("catalog: %w: %w", ErrDependencyUnavailable, err)
	}
	s.products = products
	return nil
}

func (s *createSaga) price(_ context.Context) error {
	quote, err := Price(s.requested, s.products)
	if err != nil {
		return err
	}
	s.quote = quote
	return nil
}

func (s *createSaga) persist(ctx context.Context) error {
	order := &Order{
		TotalAmount: s.quote.TotalAmount,
		TotalItems:  s.quote.TotalItems,
		Status:      StatusPending,
		Items:       s.quote.Items,
	}
	if err := s.svc.repo.CreateOrder(ctx, order); err != nil {
		return err
	}
	s.order = order
	return nil
}

func (s *createSaga) requestPaymentSession(ctx context.Context) error {
	session, err := s.svc.paymentSession(ctx, s.order)
	if err != nil {
		return err
	}
	s.session = session
	return nil
}
