package service_test

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestPlaceOrder_ScenarioA() {
	productID := s.seedProduct("Studio Headphones", "50.00", 5)

	_, err := s.CartService.AddItem(s.Ctx, 1, productID, 1)
	s.Require().NoError(err)

	order, err := s.CheckoutService.PlaceOrder(s.Ctx, 1, address(), domain.PaymentMethodCard)
	s.Require().NoError(err)

	s.Require().True(order.Subtotal.Equal(decimal.RequireFromString("50")))
	s.Require().True(order.Shipping.Equal(decimal.RequireFromString("15")))
	s.Require().True(order.Tax.Equal(decimal.RequireFromString("4.00")))
	s.Require().True(order.TotalAmount.Equal(decimal.RequireFromString("69.00")))
	s.Require().Equal(domain.OrderStatusPending, order.OrderStatus)
	s.Require().Equal(domain.PaymentStatusCompleted, order.PaymentStatus)

	s.Require().Equal(int64(4), s.stockOf(productID))

	cart, err := s.CartService.GetCart(s.Ctx, 1)
	s.Require().NoError(err)
	s.Require().True(cart.IsEmpty())

	publishedQuery := `
		SELECT COUNT(*)
		FROM outbox
		WHERE aggregate_id = $1 AND event_type = 'OrderPlaced' AND published_at IS NOT NULL
	`
	s.Require().Eventually(func() bool {
		return s.count(publishedQuery, fmt.Sprintf("%d", order.ID)) == 1
	}, 10*time.Second, 100*time.Millisecond)
}

func (s *IntegrationTestSuite) TestPlaceOrder_ScenarioB_InsufficientStock() {
	productID := s.seedProduct("Portable Speaker", "60.00", 5)

	_, err := s.CartService.AddItem(s.Ctx, 2, productID, 2)
	s.Require().NoError(err)

	stock := int64(1)
	_, err = s.ProductService.Update(s.Ctx, productID, &domain.UpdateProductInput{Stock: &stock})
	s.Require().NoError(err)

	order, err := s.CheckoutService.PlaceOrder(s.Ctx, 2, address(), domain.PaymentMethodCard)
	s.Require().Nil(order)

	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Require().Equal(productID, stockErr.ProductID)
	s.Require().Equal(int64(2), stockErr.Requested)
	s.Require().Equal(int64(1), stockErr.Available)

	s.Require().Equal(int64(1), s.stockOf(productID))
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM orders`))

	cart, err := s.CartService.GetCart(s.Ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(cart.Items, 1)
	s.Require().Equal(int64(2), cart.Items[0].Quantity)
}

func (s *IntegrationTestSuite) TestPlaceOrder_ConcurrentCheckoutsNeverOversell() {
	const buyers = 10
	productID := s.seedProduct("Limited Turntable", "120.00", 5)

	for user := int64(1); user <= buyers; user++ {
		_, err := s.CartService.AddItem(s.Ctx, user, productID, 1)
		s.Require().NoError(err)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		outOfStock int
		other      []error
	)
	for user := int64(1); user <= buyers; user++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			_, err := s.CheckoutService.PlaceOrder(s.Ctx, userID, address(), domain.PaymentMethodPaypal)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStock++
			default:
				other = append(other, err)
			}
		}(user)
	}
	wg.Wait()

	s.Require().Empty(other)
	s.Require().Equal(5, succeeded)
	s.Require().Equal(5, outOfStock)
	s.Require().Zero(s.stockOf(productID))
	s.Require().Equal(int64(5), s.count(`SELECT COUNT(*) FROM orders`))
	s.Require().Equal(int64(5), s.count(`SELECT COALESCE(SUM(quantity), 0) FROM order_items WHERE product_id = $1`, productID))
}

func (s *IntegrationTestSuite) TestPlaceOrder_PriceSnapshot() {
	productID := s.seedProduct("Smart Watch", "60.00", 3)

	_, err := s.CartService.AddItem(s.Ctx, 3, productID, 1)
	s.Require().NoError(err)

	order, err := s.CheckoutService.PlaceOrder(s.Ctx, 3, address(), domain.PaymentMethodApple)
	s.Require().NoError(err)
	s.Require().True(order.TotalAmount.Equal(decimal.RequireFromString("79.80")))

	newPrice := decimal.RequireFromString("75.00")
	_, err = s.ProductService.Update(s.Ctx, productID, &domain.UpdateProductInput{Price: &newPrice})
	s.Require().NoError(err)

	stored, err := s.OrderService.GetOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Items, 1)
	s.Require().True(stored.Items[0].UnitPrice.Equal(decimal.RequireFromString("60.00")))
	s.Require().True(stored.TotalAmount.Equal(decimal.RequireFromString("79.80")))
}

func (s *IntegrationTestSuite) TestPlaceOrder_InvalidatesCachedProduct() {
	productID := s.seedProduct("Noise Cancelling Earbuds", "99.99", 4)
	key := fmt.Sprintf("product:%d", productID)

	cached, err := s.CachedProductService.FindByID(s.Ctx, productID)
	s.Require().NoError(err)
	s.Require().Equal(int64(4), cached.Stock)

	val, err := s.Redis.Get(s.Ctx, key).Result()
	s.Require().NoError(err)
	s.Require().NotEmpty(val)

	_, err = s.CartService.AddItem(s.Ctx, 4, productID, 2)
	s.Require().NoError(err)

	_, err = s.CheckoutService.PlaceOrder(s.Ctx, 4, address(), domain.PaymentMethodCOD)
	s.Require().NoError(err)

	_, err = s.Redis.Get(s.Ctx, key).Result()
	s.Require().ErrorIs(err, redis.Nil)

	fresh, err := s.CachedProductService.FindByID(s.Ctx, productID)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), fresh.Stock)
}

func (s *IntegrationTestSuite) TestPlaceOrder_DeletedProduct() {
	productID := s.seedProduct("Retired Tablet", "200.00", 2)

	_, err := s.CartService.AddItem(s.Ctx, 5, productID, 1)
	s.Require().NoError(err)
	s.Require().NoError(s.ProductService.Delete(s.Ctx, productID))

	_, err = s.CheckoutService.PlaceOrder(s.Ctx, 5, address(), domain.PaymentMethodCard)

	var notFound *domain.ProductNotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Require().Equal(productID, notFound.ProductID)
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestPlaceOrder_DoubleSubmitCommitsOnce() {
	const submits = 5
	productID := s.seedProduct("Vinyl Cleaner", "40.00", 10)

	_, err := s.CartService.AddItem(s.Ctx, 6, productID, 2)
	s.Require().NoError(err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
		other    []error
	)
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.CheckoutService.PlaceOrder(s.Ctx, 6, address(), domain.PaymentMethodCard)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrCartChanged):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	s.Require().Empty(other)
	s.Require().Equal(1, placed)
	s.Require().Equal(submits-1, rejected)
	s.Require().Equal(int64(8), s.stockOf(productID))
	s.Require().Equal(int64(1), s.count(`SELECT COUNT(*) FROM orders WHERE user_id = $1`, int64(6)))
	s.Require().Equal(int64(1), s.count(`SELECT COUNT(*) FROM outbox WHERE event_type = 'OrderPlaced'`))
}
