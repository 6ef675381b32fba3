package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch status := OrderStatus(s); status {
	case OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, s)
	}
}

// transitions lists every legal lifecycle move. Delivered and Cancelled are
// terminal.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered, OrderStatusCancelled},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusChange records a lifecycle move made by a transaction. Callers
// observe it only after that transaction commits.
type StatusChange struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
	Forced  bool
}

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodPaypal PaymentMethod = "paypal"
	PaymentMethodApple  PaymentMethod = "apple"
	PaymentMethodCOD    PaymentMethod = "cod"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch method := PaymentMethod(s); method {
	case PaymentMethodCard, PaymentMethodPaypal, PaymentMethodApple, PaymentMethodCOD:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
}

// Prepaid reports whether money is captured at checkout.
func (m PaymentMethod) Prepaid() bool {
	return m == PaymentMethodCard || m == PaymentMethodPaypal || m == PaymentMethodApple
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
)

type ShippingAddress struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"required,max=32"`
}

// OrderLine is the purchase-time snapshot of a cart line. It never follows
// later product edits.
type OrderLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
}

func (l OrderLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

var (
	freeShippingThreshold = decimal.NewFromInt(99)
	flatShipping          = decimal.NewFromInt(15)
	taxRate               = decimal.RequireFromString("0.08")
)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// CalculateTotals applies the storefront pricing rules: shipping is free
// strictly above 99, tax is 8% of the subtotal rounded to cents.
func CalculateTotals(lines []OrderLine) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Total())
	}

	shipping := flatShipping
	if subtotal.GreaterThan(freeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(taxRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}

type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	Items            []OrderLine     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Shipping         decimal.Decimal `json:"shipping"`
	Tax              decimal.Decimal `json:"tax"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	ShippingAddress  ShippingAddress `json:"shipping_address"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	OrderStatus      OrderStatus     `json:"order_status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
}

func (o *Order) ApplyTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.Shipping = t.Shipping
	o.Tax = t.Tax
	o.TotalAmount = t.Total
}
