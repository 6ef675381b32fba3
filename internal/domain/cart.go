package domain

import "github.com/shopspring/decimal"

type CartItem struct {
	ProductID int64    `json:"product_id"`
	Quantity  int64    `json:"quantity"`
	Product   *Product `json:"product,omitempty"`
}

type Cart struct {
	UserID int64      `json:"user_id"`
	Items  []CartItem `json:"items"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Subtotal prices the cart at the current product prices. Lines whose
// product could not be resolved are skipped.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}

	for _, item := range c.Items {
		if item.Product == nil {
			continue
		}
		total = total.Add(item.Product.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return total
}
