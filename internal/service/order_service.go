package service

import (
	"context"
	"errors"
	"fmt"
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
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderService interface {
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, userID int64, limit, offset int64) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)
	ForceOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)
	// ApplyStatus runs a lifecycle transition inside a caller-owned
	// transaction. The returned change is nil when the order already had the
	// status; the caller reports it once its transaction commits.
	ApplyStatus(ctx context.Context, tx pgx.Tx, orderID int64, status domain.OrderStatus) (*domain.Order, *domain.StatusChange, error)
}

type orderService struct {
	pool       db.Pool
	orders     repository.OrderRepository
	outbox     outboxRepository.OutboxRepository
	metrics    *metrics.Metrics
	orderTopic string
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewOrderService(
	pool db.Pool,
	orders repository.OrderRepository,
	outbox outboxRepository.OutboxRepository,
	m *metrics.Metrics,
	orderTopic string,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		pool:       pool,
		orders:     orders,
		outbox:     outbox,
		metrics:    m,
		orderTopic: orderTopic,
		logger:     logger,
		tracer:     otel.Tracer("order_service"),
		now:        time.Now,
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderNotFound)
		}

		span.RecordError(err)
		return nil, err
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID int64, limit, offset int64) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.orders.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return orders, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*domain.Order, *domain.StatusChange, error) {
		return s.changeStatus(ctx, tx, orderID, status, false)
	})
}

// ForceOrderStatus is the admin override: any valid status may be set
// regardless of the current one.
func (s *orderService) ForceOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*domain.Order, *domain.StatusChange, error) {
		return s.changeStatus(ctx, tx, orderID, status, true)
	})
}

func (s *orderService) ApplyStatus(
	ctx context.Context,
	tx pgx.Tx,
	orderID int64,
	status domain.OrderStatus,
) (*domain.Order, *domain.StatusChange, error) {
	return s.changeStatus(ctx, tx, orderID, status, false)
}

func (s *orderService) inTx(
	ctx context.Context,
	fn func(tx pgx.Tx) (*domain.Order, *domain.StatusChange, error),
) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Failed to begin transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, s.logger, "Failed to rollback transaction", zap.Error(err))
		}
	}()

	order, change, err := fn(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.metrics.ObserveStatusChange(change)

	return order, nil
}

func (s *orderService) changeStatus(
	ctx context.Context,
	tx pgx.Tx,
	orderID int64,
	status domain.OrderStatus,
	force bool,
) (*domain.Order, *domain.StatusChange, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ChangeStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(status)),
		attribute.Bool("forced", force),
	)

	if _, err := domain.ParseOrderStatus(string(status)); err != nil {
		return nil, nil, err
	}

	order, err := s.orders.LockForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			mylogger.Warn(ctx, s.logger, "Order not found", zap.Int64("order_id", orderID))
			return nil, nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderNotFound)
		}

		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to load order: %w", err)
	}

	from := order.OrderStatus
	if from == status {
		return order, nil, nil
	}

	if !force && !domain.CanTransition(from, status) {
		return nil, nil, &domain.InvalidTransitionError{From: from, To: status}
	}

	var deliveredAt *time.Time
	if status == domain.OrderStatusDelivered {
		now := s.now().UTC()
		deliveredAt = &now
	}

	updatedAt, err := s.orders.UpdateStatus(ctx, tx, orderID, status, deliveredAt)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to update order status: %w", err)
	}

	order.OrderStatus = status
	order.UpdatedAt = updatedAt
	if deliveredAt != nil {
		order.DeliveredAt = deliveredAt
	}

	event, err := outboxDomain.NewEvent(
		s.orderTopic,
		domain.AggregateOrder,
		strconv.FormatInt(orderID, 10),
		domain.EventOrderStatusChanged,
		domain.OrderStatusChangedEvent{
			OrderID:   orderID,
			From:      from,
			To:        status,
			Forced:    force,
			ChangedAt: updatedAt,
		},
	)
	if err != nil {
		return nil, nil, err
	}

	if err := s.outbox.SaveOutboxEvent(ctx, tx, event); err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to emit event: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.Bool("forced", force),
	)

	return order, &domain.StatusChange{OrderID: orderID, From: from, To: status, Forced: force}, nil
}
