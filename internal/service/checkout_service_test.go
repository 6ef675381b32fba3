package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/metrics"
	"github.com/sakashimaa/electrowave/internal/repository"
	outboxRepository "github.com/sakashimaa/electrowave/pkg/outbox/repository"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type CheckoutSuite struct {
	suite.Suite
	mock     pgxmock.PgxPoolIface
	payments *stubAuthorizer
	cache    *recordingInvalidator
	metrics  *metrics.Metrics
	svc      CheckoutService
}

func (s *CheckoutSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	s.Require().NoError(err)

	logger := zap.NewNop()
	s.mock = mock
	s.payments = &stubAuthorizer{auth: Authorization{Approved: true, Reference: "ref-1"}}
	s.cache = &recordingInvalidator{}
	s.metrics = metrics.New()
	s.svc = NewCheckoutService(CheckoutDeps{
		Pool:       mock,
		Carts:      repository.NewCartRepository(mock, logger),
		Products:   repository.NewProductRepository(mock, logger),
		Orders:     repository.NewOrderRepository(mock, logger),
		Outbox:     outboxRepository.NewOutboxRepository(),
		Payments:   s.payments,
		Cache:      s.cache,
		Metrics:    s.metrics,
		OrderTopic: "order_events",
		Logger:     logger,
	})
}

func (s *CheckoutSuite) TearDownTest() {
	s.mock.Close()
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) expectCart(userID int64, rows *pgxmock.Rows) {
	s.mock.ExpectQuery(`FROM cart_items c LEFT JOIN products p`).
		WithArgs(userID).
		WillReturnRows(rows)
}

type cartLine struct {
	productID int64
	quantity  int64
}

func (s *CheckoutSuite) expectCartLock(userID int64, lines ...cartLine) {
	rows := s.mock.NewRows([]string{"product_id", "quantity"})
	for _, line := range lines {
		rows.AddRow(line.productID, line.quantity)
	}
	s.mock.ExpectQuery(`SELECT product_id, quantity FROM cart_items WHERE user_id = \$1 ORDER BY product_id FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(rows)
}

func (s *CheckoutSuite) expectOrderInsert(orderID, userID int64, method domain.PaymentMethod, productIDs ...int64) {
	now := time.Now()
	s.mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(
			userID,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			string(method),
			string(domain.PaymentStatusCompleted),
			pgxmock.AnyArg(),
			string(domain.OrderStatusPending),
		).
		WillReturnRows(s.mock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(orderID, now, now))
	for _, productID := range productIDs {
		s.mock.ExpectExec(`INSERT INTO order_items`).
			WithArgs(orderID, productID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
}

func (s *CheckoutSuite) expectLock(productID, stock int64, price string) {
	now := time.Now()
	s.mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
		WithArgs(productID).
		WillReturnRows(s.mock.NewRows(productCols).AddRow(productID, "item", "", dec(price), stock, now, now))
}

func (s *CheckoutSuite) expectDecrement(productID, qty int64) {
	s.mock.ExpectExec(`UPDATE products SET stock = stock - \$2`).
		WithArgs(productID, qty).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func (s *CheckoutSuite) expectRemoveLines(userID int64, removed int64, productIDs ...int64) {
	s.mock.ExpectExec(`DELETE FROM cart_items WHERE user_id = \$1 AND product_id = ANY\(\$2\)`).
		WithArgs(userID, productIDs).
		WillReturnResult(pgxmock.NewResult("DELETE", removed))
}

func (s *CheckoutSuite) expectOutbox() {
	s.mock.ExpectQuery(`INSERT INTO outbox`).
		WithArgs("order", pgxmock.AnyArg(), "OrderPlaced", pgxmock.AnyArg(), "order_events").
		WillReturnRows(s.mock.NewRows([]string{"id"}).AddRow(int64(1)))
}

// requireRolledBack asserts a checkout that failed inside the transaction:
// payment was authorized once, nothing was invalidated and the outcome was
// counted exactly once.
func (s *CheckoutSuite) requireRolledBack(outcome string) {
	s.Equal(1, s.payments.calls)
	s.Empty(s.cache.ids)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Checkouts.WithLabelValues(outcome)))
	s.Equal(0.0, testutil.ToFloat64(s.metrics.Checkouts.WithLabelValues("success")))
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_SingleItem() {
	ctx := context.Background()

	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 1})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 10)
	s.expectLock(10, 5, "50")
	s.expectDecrement(10, 1)
	s.expectRemoveLines(1, 1, 10)
	s.expectOutbox()
	s.mock.ExpectCommit()

	order, err := s.svc.PlaceOrder(ctx, 1, testAddress(), domain.PaymentMethodCard)
	s.Require().NoError(err)

	s.Equal(int64(100), order.ID)
	requireDecimal(s.T(), "50", order.Subtotal)
	requireDecimal(s.T(), "15", order.Shipping)
	requireDecimal(s.T(), "4.00", order.Tax)
	requireDecimal(s.T(), "69.00", order.TotalAmount)
	s.Equal(domain.OrderStatusPending, order.OrderStatus)
	s.Equal(domain.PaymentStatusCompleted, order.PaymentStatus)
	s.Equal("ref-1", order.PaymentReference)
	s.Require().Len(order.Items, 1)
	requireDecimal(s.T(), "50", order.Items[0].UnitPrice)

	s.Equal([]int64{10}, s.cache.ids)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Checkouts.WithLabelValues("success")))
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_LocksInAscendingProductOrder() {
	ctx := context.Background()

	s.expectCart(1, s.mock.NewRows(cartCols).
		AddRow(int64(3), int64(1), true, "B", "", dec("60"), int64(4)).
		AddRow(int64(1), int64(2), true, "A", "", dec("25"), int64(9)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{1, 2}, cartLine{3, 1})
	s.expectOrderInsert(7, 1, domain.PaymentMethodPaypal, 1, 3)
	s.expectLock(1, 9, "25")
	s.expectDecrement(1, 2)
	s.expectLock(3, 4, "60")
	s.expectDecrement(3, 1)
	s.expectRemoveLines(1, 2, 1, 3)
	s.expectOutbox()
	s.mock.ExpectCommit()

	order, err := s.svc.PlaceOrder(ctx, 1, testAddress(), domain.PaymentMethodPaypal)
	s.Require().NoError(err)

	requireDecimal(s.T(), "110", order.Subtotal)
	requireDecimal(s.T(), "0", order.Shipping)
	requireDecimal(s.T(), "8.80", order.Tax)
	requireDecimal(s.T(), "118.80", order.TotalAmount)
	s.Equal([]int64{1, 3}, s.cache.ids)
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_InsufficientStockBeforePayment() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(2), true, "Speaker", "", dec("60"), int64(1)))

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)

	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(int64(10), stockErr.ProductID)
	s.Equal(int64(2), stockErr.Requested)
	s.Equal(int64(1), stockErr.Available)
	s.Zero(s.payments.calls)
	s.Empty(s.cache.ids)
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_StockChangedUnderLock() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(2), true, "Speaker", "", dec("60"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 2})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 10)
	s.expectLock(10, 1, "60")
	s.mock.ExpectRollback()

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)

	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(int64(1), stockErr.Available)
	s.requireRolledBack("insufficient_stock")
}

func (s *CheckoutSuite) TestPlaceOrder_GuardedDecrementLosesRace() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Speaker", "", dec("60"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 1})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 10)
	s.expectLock(10, 5, "60")
	s.mock.ExpectExec(`UPDATE products SET stock = stock - \$2`).
		WithArgs(int64(10), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	s.mock.ExpectRollback()

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.requireRolledBack("insufficient_stock")
}

func (s *CheckoutSuite) TestPlaceOrder_EmptyCart() {
	s.expectCart(1, s.mock.NewRows(cartCols))

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrEmptyCart)
	s.Zero(s.payments.calls)
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_CartDrainedByConcurrentCheckout() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1)
	s.mock.ExpectRollback()

	order, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrEmptyCart)
	s.Nil(order)
	s.requireRolledBack("empty_cart")
}

func (s *CheckoutSuite) TestPlaceOrder_CartChangedAfterPricing() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 1}, cartLine{12, 3})
	s.mock.ExpectRollback()

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrCartChanged)
	s.requireRolledBack("cart_changed")
}

func (s *CheckoutSuite) TestPlaceOrder_QuantityChangedAfterPricing() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 2})
	s.mock.ExpectRollback()

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrCartChanged)
	s.requireRolledBack("cart_changed")
}

func (s *CheckoutSuite) TestPlaceOrder_CartLinesAlreadyRemoved() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 1})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 10)
	s.expectLock(10, 5, "50")
	s.expectDecrement(10, 1)
	s.expectRemoveLines(1, 0, 10)
	s.mock.ExpectRollback()

	order, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrCartChanged)
	s.Nil(order)
	s.requireRolledBack("cart_changed")
}

func (s *CheckoutSuite) TestPlaceOrder_DeletedProduct() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(8), int64(1), false, "", "", dec("0"), int64(0)))

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)

	var notFound *domain.ProductNotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal(int64(8), notFound.ProductID)
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_ProductDeletedBeforeLock() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(8), int64(1), true, "Lamp", "", dec("30"), int64(2)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{8, 1})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 8)
	s.mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
		WithArgs(int64(8)).
		WillReturnRows(s.mock.NewRows(productCols))
	s.mock.ExpectRollback()

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
	s.requireRolledBack("product_not_found")
}

func (s *CheckoutSuite) TestPlaceOrder_DatabaseFailureAborts() {
	dbErr := errors.New("connection reset by peer")

	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 1})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 10)
	s.expectLock(10, 5, "50")
	s.expectDecrement(10, 1)
	s.mock.ExpectExec(`DELETE FROM cart_items WHERE user_id = \$1 AND product_id = ANY\(\$2\)`).
		WithArgs(int64(1), []int64{10}).
		WillReturnError(dbErr)
	s.mock.ExpectRollback()

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)

	var abortErr *domain.TransactionAbortError
	s.Require().ErrorAs(err, &abortErr)
	s.ErrorIs(err, dbErr)
	s.requireRolledBack("error")
}

func (s *CheckoutSuite) TestPlaceOrder_CommitFailureAborts() {
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))
	s.mock.ExpectBegin()
	s.expectCartLock(1, cartLine{10, 1})
	s.expectOrderInsert(100, 1, domain.PaymentMethodCard, 10)
	s.expectLock(10, 5, "50")
	s.expectDecrement(10, 1)
	s.expectRemoveLines(1, 1, 10)
	s.expectOutbox()
	s.mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)

	var abortErr *domain.TransactionAbortError
	s.Require().ErrorAs(err, &abortErr)
	s.Empty(s.cache.ids)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Checkouts.WithLabelValues("error")))
}

func (s *CheckoutSuite) TestPlaceOrder_PaymentDeclined() {
	s.payments.auth = Authorization{Approved: false, Reason: "card expired"}
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)

	s.Require().ErrorIs(err, domain.ErrPaymentDeclined)
	s.Contains(err.Error(), "card expired")
	s.Equal(1, s.payments.calls)
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_PaymentUnavailable() {
	s.payments.err = domain.ErrPaymentUnavailable
	s.expectCart(1, s.mock.NewRows(cartCols).AddRow(int64(10), int64(1), true, "Headphones", "", dec("50"), int64(5)))

	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethodCard)
	s.Require().ErrorIs(err, domain.ErrPaymentUnavailable)
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CheckoutSuite) TestPlaceOrder_InvalidPaymentMethod() {
	_, err := s.svc.PlaceOrder(context.Background(), 1, testAddress(), domain.PaymentMethod("barter"))
	s.Require().ErrorIs(err, domain.ErrInvalidPaymentMethod)
	s.NoError(s.mock.ExpectationsWereMet())
}

func TestCheckoutOutcome(t *testing.T) {
	require.Equal(t, "success", checkoutOutcome(nil))
	require.Equal(t, "payment_declined", checkoutOutcome(&domain.PaymentDeclinedError{}))
	require.Equal(t, "cart_changed", checkoutOutcome(domain.ErrCartChanged))
	require.Equal(t, "error", checkoutOutcome(&domain.TransactionAbortError{Cause: errors.New("x")}))
}
