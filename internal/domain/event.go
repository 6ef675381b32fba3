package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AggregateOrder = "order"

	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventShipmentDispatched = "ShipmentDispatched"
	EventShipmentDelivered  = "ShipmentDelivered"
)

type OrderPlacedEvent struct {
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Items         []OrderLine     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
}

type OrderStatusChangedEvent struct {
	OrderID   int64       `json:"order_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Forced    bool        `json:"forced"`
	ChangedAt time.Time   `json:"changed_at"`
}

// ShipmentEvent is published by the carrier integration on shipping_events.
type ShipmentEvent struct {
	OrderID        int64     `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	OccurredAt     time.Time `json:"occurred_at"`
}
