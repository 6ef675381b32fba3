package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UpdateProductInput is a partial update; nil fields are left untouched.
// Stock replaces the current value outright.
type UpdateProductInput struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int64           `json:"stock"`
}

func (in *UpdateProductInput) Empty() bool {
	return in.Name == nil && in.Description == nil && in.Price == nil && in.Stock == nil
}

func (in *UpdateProductInput) TouchesStock() bool {
	return in.Stock != nil
}
