package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists the status domain in lifecycle order.
var Statuses = []Status{StatusPending, StatusPaid, StatusDelivered, StatusCancelled}

func (s Status) String() string {
	return string(s)
}

func (s Status) IsValid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// allowedTransitions holds the transitions reachable through ChangeStatus.
// PENDING -> PAID belongs to the payment reconciler alone.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether an administrative status change from -> to is legal.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

type OrderItem struct {
	OrderID   uuid.UUID       `json:"-" db:"order_id"`
	ProductID string          `json:"productId" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Name      string          `json:"name,omitempty" db:"-"` // rehydrated from the catalog, never stored
	CreatedAt time.Time       `json:"-" db:"created_at"`
}

type Receipt struct {
	OrderID    uuid.UUID `json:"-" db:"order_id"`
	ReceiptURL string    `json:"receiptUrl" db:"receipt_url"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	TotalAmount     decimal.Decimal `json:"totalAmount" db:"total_amount"`
	TotalItems      int             `json:"totalItems" db:"total_items"`
	Status          Status          `json:"status" db:"status"`
	Paid            bool            `json:"paid" db:"paid"`
	PaidAt          *time.Time      `json:"paidAt" db:"paid_at"`
	PaymentChargeID *string         `json:"paymentChargeId" db:"payment_charge_id"`
	Items           []OrderItem     `json:"items,omitempty" db:"-"`
	Receipt         *Receipt        `json:"receipt,omitempty" db:"-"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// ItemRequest is one requested line of a create call.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Product is a catalog entry as returned by the Catalog service.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// PaidEvent is the payload of a payment-succeeded notification.
type PaidEvent struct {
	OrderID    uuid.UUID
	PaymentID  string
	ReceiptURL string
}

// CreateResult is returned by Service.Create and Service.RetryPaymentSession.
type CreateResult struct {
	Order          *Order         `json:"order"`
	PaymentSession PaymentSession `json:"paymentSession"`
}
