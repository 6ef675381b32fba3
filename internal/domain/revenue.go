package domain

// CountsAsRevenue reports whether the order's money is earned. Prepaid
// methods count once payment completed; cash on delivery only after the
// parcel was delivered and paid.
func CountsAsRevenue(o *Order) bool {
	if o == nil {
		return false
	}

	switch o.PaymentMethod {
	case PaymentMethodCard, PaymentMethodPaypal, PaymentMethodApple:
		return o.PaymentStatus == PaymentStatusCompleted
	case PaymentMethodCOD:
		return o.OrderStatus == OrderStatusDelivered && o.PaymentStatus == PaymentStatusCompleted
	default:
		return false
	}
}

// AwaitingCashCollection is true for live COD orders whose money has not
// been earned yet.
func AwaitingCashCollection(o *Order) bool {
	return o != nil &&
		o.PaymentMethod == PaymentMethodCOD &&
		o.OrderStatus != OrderStatusCancelled &&
		!CountsAsRevenue(o)
}
