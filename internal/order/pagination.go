package order

import "fmt"

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

type ListParams struct {
	Status *Status
	Page   int
	Limit  int
}

// Offset is the number of rows skipped for a 1-indexed page.
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

func (p ListParams) validate() error {
	if p.Page < 1 || p.Limit < 1 {
		return fmt.Errorf("page and limit must be positive, got page=%d limit=%d: %w", p.Page, p.Limit, ErrValidation)
	}
	if p.Status != nil && !p.Status.IsValid() {
		return fmt.Errorf("unknown status %q: %w", *p.Status, ErrValidation)
	}
	return nil
}

type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	LastPage int `json:"lastPage"`
}

type OrderPage struct {
	Data []Order  `json:"data"`
	Meta PageMeta `json:"meta"`
}

// LastPage is ceil(total / limit).
func LastPage(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
