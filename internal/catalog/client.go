package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/messaging"
	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

var validateProducts = messaging.CmdPattern("validate_products")

// Requester is the request/reply side of the bus.
type Requester interface {
	Request(ctx context.Context, p messaging.Pattern, data any, out any) error
}

type Client struct {
	bus Requester
}

func NewClient(bus Requester) *Client {
	return &Client{bus: bus}
}

// product mirrors the catalog reply. Ids arrive as numbers or strings
// depending on the catalog's storage.
type product struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ValidateProducts asks the catalog for the given ids in one call. The catalog
// fails the whole call when any id is unknown; a short reply is left for the
// caller to detect.
func (c *Client) ValidateProducts(ctx context.Context, ids []string) ([]order.Product, error) {
	var reply []product
	if err := c.bus.Request(ctx, validateProducts, wireIDs(ids), &reply); err != nil {
		return nil, fmt.Errorf("catalog: validate products: %w", err)
	}

	products := make([]order.Product, 0, len(reply))
	for _, p := range reply {
		id, err := normalizeID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		products = append(products, order.Product{ID: id, Name: p.Name, Price: p.Price})
	}
	return products, nil
}

// wireIDs sends numeric ids as JSON numbers, which is what a catalog keyed by
// integers expects.
func wireIDs(ids []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		if isInteger(id) {
			out = append(out, json.RawMessage(id))
			continue
		}
		raw, _ := json.Marshal(id)
		out = append(out, raw)
	}
	return out
}

func normalizeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("product without id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid product id %s: %w", raw, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid product id %s: %w", raw, err)
	}
	return n.String(), nil
}

func isInteger(s string) bool {
	if s == "" || len(s) > 15 {
		return false
	}
	if s != "0" && strings.HasPrefix(s, "0") {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
