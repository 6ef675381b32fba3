package service

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/metrics"
	"github.com/sakashimaa/electrowave/internal/repository"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/electrowave/pkg/outbox/domain"
	outboxRepository "github.com/sakashimaa/electrowave/pkg/outbox/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CheckoutService interface {
	PlaceOrder(
		ctx context.Context,
		userID int64,
		address domain.ShippingAddress,
		method domain.PaymentMethod,
	) (*domain.Order, error)
}

type CheckoutDeps struct {
	Pool       db.Pool
	Carts      repository.CartRepository
	Products   repository.ProductRepository
	Orders     repository.OrderRepository
	Outbox     outboxRepository.OutboxRepository
	Payments   PaymentAuthorizer
	Cache      ProductCacheInvalidator
	Metrics    *metrics.Metrics
	OrderTopic string
	Logger     *zap.Logger
}

type checkoutService struct {
	pool       db.Pool
	carts      repository.CartRepository
	products   repository.ProductRepository
	orders     repository.OrderRepository
	outbox     outboxRepository.OutboxRepository
	payments   PaymentAuthorizer
	cache      ProductCacheInvalidator
	metrics    *metrics.Metrics
	orderTopic string
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewCheckoutService(deps CheckoutDeps) CheckoutService {
	cache := deps.Cache
	if cache == nil {
		cache = noopInvalidator{}
	}
	topic := deps.OrderTopic
	if topic == "" {
		topic = "order_events"
	}

	return &checkoutService{
		pool:       deps.Pool,
		carts:      deps.Carts,
		products:   deps.Products,
		orders:     deps.Orders,
		outbox:     deps.Outbox,
		payments:   deps.Payments,
		cache:      cache,
		metrics:    deps.Metrics,
		orderTopic: topic,
		logger:     deps.Logger,
		tracer:     otel.Tracer("checkout_service"),
	}
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrCartChanged):
		return "cart_changed"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, domain.ErrPaymentUnavailable):
		return "payment_unavailable"
	case errors.Is(err, domain.ErrInvalidPaymentMethod):
		return "invalid_request"
	default:
		return "error"
	}
}

// PlaceOrder converts the user's cart into an order. The cart lock, order
// insert, stock decrements, cart line removal and the OrderPlaced outbox row
// share one transaction; on any failure none of them is visible.
func (s *checkoutService) PlaceOrder(
	ctx context.Context,
	userID int64,
	address domain.ShippingAddress,
	method domain.PaymentMethod,
) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("payment_method", string(method)),
	)

	start := time.Now()
	order, err := s.placeOrder(ctx, userID, address, method)

	outcome := checkoutOutcome(err)
	s.metrics.ObserveCheckout(outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)

		var abortErr *domain.TransactionAbortError
		if errors.As(err, &abortErr) {
			mylogger.Error(ctx, s.logger, "Checkout aborted",
				zap.Int64("user_id", userID),
				zap.Error(abortErr.Cause),
			)
		} else {
			mylogger.Warn(ctx, s.logger, "Checkout rejected",
				zap.Int64("user_id", userID),
				zap.String("outcome", outcome),
				zap.Error(err),
			)
		}

		return nil, err
	}

	mylogger.Info(ctx, s.logger, "Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.String("payment_method", string(method)),
	)

	return order, nil
}

func (s *checkoutService) placeOrder(
	ctx context.Context,
	userID int64,
	address domain.ShippingAddress,
	method domain.PaymentMethod,
) (*domain.Order, error) {
	if _, err := domain.ParsePaymentMethod(string(method)); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, &domain.TransactionAbortError{Cause: err}
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	items := slices.Clone(cart.Items)
	slices.SortFunc(items, func(a, b domain.CartItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		if item.Product == nil {
			return nil, &domain.ProductNotFoundError{ProductID: item.ProductID}
		}
		if item.Quantity > item.Product.Stock {
			return nil, &domain.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: item.Product.Stock,
			}
		}

		lines = append(lines, domain.OrderLine{
			ProductID: item.ProductID,
			Name:      item.Product.Name,
			UnitPrice: item.Product.Price,
			Quantity:  item.Quantity,
		})
	}

	totals := domain.CalculateTotals(lines)

	auth, err := s.payments.Authorize(ctx, totals.Total, method)
	if err != nil {
		return nil, err
	}
	if !auth.Approved {
		return nil, &domain.PaymentDeclinedError{Method: method, Reason: auth.Reason}
	}

	order := &domain.Order{
		UserID:           userID,
		Items:            lines,
		ShippingAddress:  address,
		PaymentMethod:    method,
		PaymentStatus:    domain.PaymentStatusCompleted,
		PaymentReference: auth.Reference,
		OrderStatus:      domain.OrderStatusPending,
	}
	order.ApplyTotals(totals)

	if err := s.persist(ctx, order); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	s.cache.Invalidate(ctx, ids...)

	return order, nil
}

func (s *checkoutService) persist(ctx context.Context, order *domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, s.logger, "Failed to rollback checkout transaction", zap.Error(err))
		}
	}()

	locked, err := s.carts.LockItems(ctx, tx, order.UserID)
	if err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}
	if err := matchLockedCart(locked, order.Items); err != nil {
		return err
	}

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}

	for _, line := range order.Items {
		if err := s.reserveLine(ctx, tx, line); err != nil {
			return err
		}
	}

	ordered := make([]int64, 0, len(order.Items))
	for _, line := range order.Items {
		ordered = append(ordered, line.ProductID)
	}
	removed, err := s.carts.RemoveLines(ctx, tx, order.UserID, ordered)
	if err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}
	if removed != int64(len(ordered)) {
		return domain.ErrCartChanged
	}

	event, err := outboxDomain.NewEvent(
		s.orderTopic,
		domain.AggregateOrder,
		strconv.FormatInt(order.ID, 10),
		domain.EventOrderPlaced,
		domain.OrderPlacedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Items:         order.Items,
			TotalAmount:   order.TotalAmount,
			PaymentMethod: order.PaymentMethod,
			CreatedAt:     order.CreatedAt,
		},
	)
	if err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}

	if err := s.outbox.SaveOutboxEvent(ctx, tx, event); err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.TransactionAbortError{Cause: err}
	}

	return nil
}

// matchLockedCart checks that the cart rows locked inside the transaction
// are exactly the lines that were priced and authorized. Both slices are in
// ascending product id order.
func matchLockedCart(locked []domain.CartItem, lines []domain.OrderLine) error {
	if len(locked) == 0 {
		return domain.ErrEmptyCart
	}
	if len(locked) != len(lines) {
		return domain.ErrCartChanged
	}

	for i, item := range locked {
		if item.ProductID != lines[i].ProductID || item.Quantity != lines[i].Quantity {
			return domain.ErrCartChanged
		}
	}

	return nil
}

// reserveLine re-validates one line under the product row lock and
// decrements stock. Lines arrive in ascending product id order.
func (s *checkoutService) reserveLine(ctx context.Context, tx pgx.Tx, line domain.OrderLine) error {
	product, err := s.products.LockForUpdate(ctx, tx, line.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return &domain.ProductNotFoundError{ProductID: line.ProductID}
		}
		return &domain.TransactionAbortError{Cause: err}
	}

	if product.Stock < line.Quantity {
		return &domain.InsufficientStockError{
			ProductID: line.ProductID,
			Requested: line.Quantity,
			Available: product.Stock,
		}
	}

	if err := s.products.DecreaseStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			return &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: product.Stock,
			}
		}
		return &domain.TransactionAbortError{Cause: err}
	}

	return nil
}
