package order

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrCatalogMismatch         = errors.New("product missing from catalog response")
	ErrDependencyUnavailable   = errors.New("dependency unavailable")
	ErrOrderNotFound           = errors.New("order not found")
	ErrCreationFailed          = errors.New("order creation failed")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrStatusConflict          = errors.New("order status changed concurrently")
)

// CreationError keeps the real cause of a failed create saga for logging while
// exposing only ErrCreationFailed to callers. OrderID is set when the order was
// persisted before the failure; such an order stays PENDING and can be resumed
// with RetryPaymentSession.
type CreationError struct {
	Step    string
	OrderID uuid.UUID
	Cause   error
}

func (e *CreationError) Error() string {
	return ErrCreationFailed.Error()
}

func (e *CreationError) Is(target error) bool {
	return target == ErrCreationFailed
}

func (e *CreationError) Unwrap() error {
	return e.Cause
}

func notFound(id uuid.UUID) error {
	return fmt.Errorf("order with id %s not found: %w", id, ErrOrderNotFound)
}
