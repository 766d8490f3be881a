package validation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

// ProductID accepts a JSON string or integer.
type ProductID string

func (p *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("productId must be a string or a number: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("productId must be an integer, got %s", n)
	}
	*p = ProductID(n.String())
	return nil
}

type OrderItemRequest struct {
	ProductID ProductID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderRequest is the payload of create_order.
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r CreateOrderRequest) ItemRequests() []order.ItemRequest {
	items := make([]order.ItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, order.ItemRequest{ProductID: string(item.ProductID), Quantity: item.Quantity})
	}
	return items
}

// PaginationRequest is the payload of find_all_orders. Zero page and limit
// fall back to the defaults.
type PaginationRequest struct {
	Status *string `json:"status,omitempty" validate:"omitempty,order_status"`
	Page   int     `json:"page,omitempty" validate:"gte=0"`
	Limit  int     `json:"limit,omitempty" validate:"gte=0"`
}

func (r PaginationRequest) Params() order.ListParams {
	params := order.ListParams{Page: r.Page, Limit: r.Limit}
	if params.Page == 0 {
		params.Page = order.DefaultPage
	}
	if params.Limit == 0 {
		params.Limit = order.DefaultLimit
	}
	if r.Status != nil {
		status := order.Status(*r.Status)
		params.Status = &status
	}
	return params
}

type OrderIDRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

func (r OrderIDRequest) OrderID() uuid.UUID {
	return uuid.FromStringOrNil(r.ID)
}

// StatusRequest is the payload of change_order_status.
type StatusRequest struct {
	ID     string `json:"id" validate:"required,uuid"`
	Status string `json:"status" validate:"required,order_status"`
}

func (r StatusRequest) OrderID() uuid.UUID {
	return uuid.FromStringOrNil(r.ID)
}

// PaidOrderRequest is the payload of the payment.succeeded event.
type PaidOrderRequest struct {
	OrderID    string `json:"orderId" validate:"required,uuid"`
	PaymentID  string `json:"paymentId" validate:"required"`
	ReceiptURL string `json:"receiptUrl" validate:"required,url"`
}

func (r PaidOrderRequest) Event() order.PaidEvent {
	return order.PaidEvent{
		OrderID:    uuid.FromStringOrNil(r.OrderID),
		PaymentID:  r.PaymentID,
		ReceiptURL: r.ReceiptURL,
	}
}
