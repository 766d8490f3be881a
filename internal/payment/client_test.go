package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/messaging"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/payment"
)

type stubBus struct {
	pattern messaging.Pattern
	sent    []byte
	reply   string
	err     error
}

func (b *stubBus) Request(_ context.Context, p messaging.Pattern, data any, out any) error {
	b.pattern = p
	b.sent, _ = json.Marshal(data)
	if b.err != nil {
		return b.err
	}
	return json.Unmarshal([]byte(b.reply), out)
}

func TestClient_CreatePaymentSession(t *testing.T) {
	decimal.MarshalJSONWithoutQuotes = true
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = false })

	bus := &stubBus{reply: `{"cancelUrl":"c","successUrl":"s","url":"https://checkout.example/cs_1"}`}
	orderID := uuid.Must(uuid.FromString("2f1c6a58-7b0e-4c55-9f5a-1f9d8c7e6b5a"))

	session, err := payment.NewClient(bus).CreatePaymentSession(context.Background(), order.PaymentSessionRequest{
		OrderID:  orderID,
		Currency: order.PaymentCurrency,
		Items:    []order.PaymentItem{{Name: "Keyboard", Price: decimal.RequireFromString("49.99"), Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, "create.payment.session", bus.pattern.Subject())
	assert.JSONEq(t, `{
		"orderId": "2f1c6a58-7b0e-4c55-9f5a-1f9d8c7e6b5a",
		"currency": "usd",
		"items": [{"name": "Keyboard", "price": 49.99, "quantity": 2}]
	}`, string(bus.sent))
	assert.JSONEq(t, bus.reply, string(session))
}

func TestClient_CreatePaymentSession_Error(t *testing.T) {
	bus := &stubBus{err: context.DeadlineExceeded}

	_, err := payment.NewClient(bus).CreatePaymentSession(context.Background(), order.PaymentSessionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
