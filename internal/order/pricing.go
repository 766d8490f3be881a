package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quote is the output of the pricing engine.
type Quote struct {
	Items       []OrderItem
	TotalAmount decimal.Decimal
	TotalItems  int
}

// Price freezes the catalog unit price onto every requested item and computes
// the order totals. It has no side effects. A requested product that is absent
// from products fails with ErrCatalogMismatch.
func Price(requested []ItemRequest, products []Product) (Quote, error) {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	quote := Quote{
		Items:       make([]OrderItem, 0, len(requested)),
		TotalAmount: decimal.Zero,
	}

	for _, item := range requested {
		product, ok := byID[item.ProductID]
		if !ok {
			return Quote{}, fmt.Errorf("product %s: %w", item.ProductID, ErrCatalogMismatch)
		}

		quote.Items = append(quote.Items, OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     product.Price,
			Name:      product.Name,
		})
		quote.TotalAmount = quote.TotalAmount.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		quote.TotalItems += item.Quantity
	}

	return quote, nil
}

// mergeItems sums the quantities of repeated product ids, keeping first-seen order.
func mergeItems(items []ItemRequest) []ItemRequest {
	index := make(map[string]int, len(items))
	merged := make([]ItemRequest, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// productIDs returns the distinct product ids of items in first-seen order.
func productIDs[T any](items []T, id func(T) string) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		pid := id(item)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		ids = append(ids, pid)
	}
	return ids
}
