package service_test

import (
	"time"

	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestOrderLifecycle_CODRevenue() {
	productID := s.seedProduct("Mechanical Keyboard", "150.00", 10)

	_, err := s.CartService.AddItem(s.Ctx, 6, productID, 1)
	s.Require().NoError(err)

	order, err := s.CheckoutService.PlaceOrder(s.Ctx, 6, address(), domain.PaymentMethodCOD)
	s.Require().NoError(err)
	s.Require().True(order.Shipping.IsZero())

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	report, err := s.RevenueService.RevenueReport(s.Ctx, from, to)
	s.Require().NoError(err)
	s.Require().True(report.Total.IsZero())
	s.Require().True(report.PendingCODAmount.Equal(order.TotalAmount))

	_, err = s.OrderService.UpdateOrderStatus(s.Ctx, order.ID, domain.OrderStatusShipped)
	s.Require().NoError(err)

	delivered, err := s.OrderService.UpdateOrderStatus(s.Ctx, order.ID, domain.OrderStatusDelivered)
	s.Require().NoError(err)
	s.Require().NotNil(delivered.DeliveredAt)

	report, err = s.RevenueService.RevenueReport(s.Ctx, from, to)
	s.Require().NoError(err)
	s.Require().True(report.Total.Equal(order.TotalAmount))
	s.Require().True(report.PendingCODAmount.Equal(decimal.Zero))

	_, err = s.OrderService.UpdateOrderStatus(s.Ctx, order.ID, domain.OrderStatusPending)
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	forced, err := s.OrderService.ForceOrderStatus(s.Ctx, order.ID, domain.OrderStatusPending)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusPending, forced.OrderStatus)

	s.Require().Equal(int64(3), s.count(`SELECT COUNT(*) FROM outbox WHERE event_type = 'OrderStatusChanged'`))
}
