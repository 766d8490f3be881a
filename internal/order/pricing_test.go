package order_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

func TestPrice(t *testing.T) {
	catalog := []order.Product{
		product("p1", "A", 10),
		product("p2", "B", 5),
		{ID: "p3", Name: "C", Price: decimal.RequireFromString("0.10")},
	}

	tests := []struct {
		name       string
		items      []order.ItemRequest
		wantAmount string
		wantItems  int
		wantErr    error
	}{
		{
			name:       "two_products",
			items:      []order.ItemRequest{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
			wantAmount: "25",
			wantItems:  3,
		},
		{
			name:       "fractional_prices_do_not_drift",
			items:      []order.ItemRequest{{ProductID: "p3", Quantity: 3}},
			wantAmount: "0.3",
			wantItems:  3,
		},
		{
			name:    "missing_product",
			items:   []order.ItemRequest{{ProductID: "p1", Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
			wantErr: order.ErrCatalogMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := order.Price(tt.items, catalog)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Empty(t, quote.Items)
				return
			}

			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(quote.TotalAmount), "total amount %s", quote.TotalAmount)
			assert.Equal(t, tt.wantItems, quote.TotalItems)
			require.Len(t, quote.Items, len(tt.items))
		})
	}
}

func TestPrice_TotalsMatchItems(t *testing.T) {
	catalog := []order.Product{product("a", "A", 3), product("b", "B", 7), product("c", "C", 11)}
	items := []order.ItemRequest{{ProductID: "c", Quantity: 4}, {ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 9}}

	quote, err := order.Price(items, catalog)
	require.NoError(t, err)

	sum := decimal.Zero
	count := 0
	for i, item := range quote.Items {
		assert.Equal(t, items[i].ProductID, item.ProductID, "items keep request order")
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		count += item.Quantity
	}
	assert.True(t, sum.Equal(quote.TotalAmount))
	assert.Equal(t, count, quote.TotalItems)
}

func TestPrice_FreezesCatalogPrice(t *testing.T) {
	catalog := []order.Product{product("p1", "A", 10)}

	quote, err := order.Price([]order.ItemRequest{{ProductID: "p1", Quantity: 1}}, catalog)
	require.NoError(t, err)

	catalog[0].Price = decimal.NewFromInt(99)

	assert.True(t, decimal.NewFromInt(10).Equal(quote.Items[0].Price))
	assert.Equal(t, "A", quote.Items[0].Name)
}

func TestPrice_SubCentPriceKeepsFullPrecision(t *testing.T) {
	catalog := []order.Product{{ID: "p1", Name: "Bolt", Price: decimal.RequireFromString("0.005")}}

	quote, err := order.Price([]order.ItemRequest{{ProductID: "p1", Quantity: 3}}, catalog)
	require.NoError(t, err)

	assert.Equal(t, "0.005", quote.Items[0].Price.String())
	assert.Equal(t, "0.015", quote.TotalAmount.String())
}
