package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/messaging"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

var createPaymentSession = messaging.StringPattern("create.payment.session")

type Requester interface {
	Request(ctx context.Context, p messaging.Pattern, data any, out any) error
}

// Client opens payment sessions on the Payment service.
type Client struct {
	bus Requester
}

func NewClient(bus Requester) *Client {
	return &Client{bus: bus}
}

func (c *Client) CreatePaymentSession(ctx context.Context, req order.PaymentSessionRequest) (order.PaymentSession, error) {
	var session json.RawMessage
	if err := c.bus.Request(ctx, createPaymentSession, req, &session); err != nil {
		return nil, fmt.Errorf("payment: create session for order %s: %w", req.OrderID, err)
	}
	if len(session) == 0 {
		session = json.RawMessage("null")
	}
	return session, nil
}
