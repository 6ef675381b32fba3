package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.OrderStatus, deliveredAt *time.Time) (time.Time, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int64) ([]domain.Order, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error)
}

type orderRepo struct {
	pool   db.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool db.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/order_repo"),
	}
}

const orderColumns = `id, user_id, subtotal, shipping, tax, total_amount, shipping_address,
		payment_method, payment_status, payment_reference, order_status,
		created_at, updated_at, delivered_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o             domain.Order
		address       []byte
		paymentMethod string
		paymentStatus string
		orderStatus   string
		deliveredAt   *time.Time
	)
	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Subtotal,
		&o.Shipping,
		&o.Tax,
		&o.TotalAmount,
		&address,
		&paymentMethod,
		&paymentStatus,
		&o.PaymentReference,
		&orderStatus,
		&o.CreatedAt,
		&o.UpdatedAt,
		&deliveredAt,
	); err != nil {
		return nil, err
	}

	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	o.PaymentMethod = domain.PaymentMethod(paymentMethod)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.OrderStatus = domain.OrderStatus(orderStatus)
	o.DeliveredAt = deliveredAt

	return &o, nil
}

func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", order.UserID),
		attribute.String("payment_method", string(order.PaymentMethod)),
		attribute.Int("lines", len(order.Items)),
	)

	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	query := `
		INSERT INTO orders (user_id, subtotal, shipping, tax, total_amount, shipping_address,
			payment_method, payment_status, payment_reference, order_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at;
	`

	err = tx.QueryRow(
		ctx,
		query,
		order.UserID,
		order.Subtotal,
		order.Shipping,
		order.Tax,
		order.TotalAmount,
		address,
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		order.PaymentReference,
		string(order.OrderStatus),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Int64("user_id", order.UserID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5);
	`

	for _, item := range order.Items {
		if _, err := tx.Exec(ctx, itemQuery, order.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert order item",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	span.SetAttributes(attribute.Int64("order_id", order.ID))

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", id))

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1;`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("error getting order: %w", err)
	}

	items, err := r.itemsOf(ctx, r.pool, []int64{id})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	order.Items = items[id]

	return order, nil
}

// LockForUpdate loads the order with its lines and holds the row lock until
// tx ends.
func (r *orderRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.LockForUpdate")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", id))

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE;`

	order, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to lock order",
			zap.Int64("order_id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error locking order: %w", err)
	}

	items, err := r.itemsOf(ctx, tx, []int64{id})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	order.Items = items[id]

	return order, nil
}

func (r *orderRepo) UpdateStatus(
	ctx context.Context,
	tx pgx.Tx,
	id int64,
	status domain.OrderStatus,
	deliveredAt *time.Time,
) (time.Time, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", id),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE orders
		SET order_status = $1, delivered_at = COALESCE($2, delivered_at), updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at;
	`

	var updatedAt time.Time
	if err := tx.QueryRow(ctx, query, string(status), deliveredAt, id).Scan(&updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			mylogger.Warn(
				ctx,
				r.logger,
				"Order not found",
				zap.Int64("order_id", id),
			)

			return time.Time{}, ErrOrderNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update order",
			zap.Error(err),
		)

		return time.Time{}, fmt.Errorf("failed to update order: %w", err)
	}

	return updatedAt, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID int64, limit, offset int64) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByUser")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3;
	`

	orders, err := r.queryOrders(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	items, err := r.itemsOf(ctx, r.pool, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// ListCreatedBetween returns orders created in [from, to) without their lines.
func (r *orderRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListCreatedBetween")
	defer span.End()

	span.SetAttributes(
		attribute.String("from", from.Format(time.RFC3339)),
		attribute.String("to", to.Format(time.RFC3339)),
	)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at;
	`

	orders, err := r.queryOrders(ctx, query, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(orders)))

	return orders, nil
}

func (r *orderRepo) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query orders",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepo) itemsOf(ctx context.Context, q db.Querier, orderIDs []int64) (map[int64][]domain.OrderLine, error) {
	query := `
		SELECT order_id, product_id, name, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id;
	`

	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order_items",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting order items: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID int64
			line    domain.OrderLine
		)
		if err := rows.Scan(
			&orderID,
			&line.ProductID,
			&line.Name,
			&line.UnitPrice,
			&line.Quantity,
		); err != nil {
			return nil, fmt.Errorf("error scanning order item: %w", err)
		}

		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order item rows: %w", err)
	}

	return result, nil
}
