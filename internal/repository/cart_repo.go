package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CartRepository interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	GetQuantity(ctx context.Context, userID, productID int64) (int64, error)
	AddItem(ctx context.Context, userID, productID, quantity int64) (int64, error)
	SetQuantity(ctx context.Context, userID, productID, quantity int64) error
	RemoveItem(ctx context.Context, userID, productID int64) error
	Clear(ctx context.Context, q db.Querier, userID int64) error
	LockItems(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.CartItem, error)
	RemoveLines(ctx context.Context, q db.Querier, userID int64, productIDs []int64) (int64, error)
}

type cartRepo struct {
	pool   db.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewCartRepository(pool db.Pool, logger *zap.Logger) CartRepository {
	return &cartRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/cart_repo"),
	}
}

// GetCart returns the cart lines ordered by product id. A line whose product
// was deleted keeps Product == nil.
func (r *cartRepo) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.GetCart")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	query := `
		SELECT c.product_id, c.quantity, p.id IS NOT NULL,
			COALESCE(p.name, ''), COALESCE(p.description, ''),
			COALESCE(p.price, 0), COALESCE(p.stock, 0)
		FROM cart_items c
		LEFT JOIN products p ON p.id = c.product_id AND p.deleted_at IS NULL
		WHERE c.user_id = $1
		ORDER BY c.product_id;
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query cart",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting cart: %w", err)
	}
	defer rows.Close()

	cart := &domain.Cart{UserID: userID, Items: make([]domain.CartItem, 0)}
	for rows.Next() {
		var (
			item    domain.CartItem
			exists  bool
			product domain.Product
		)
		if err := rows.Scan(
			&item.ProductID,
			&item.Quantity,
			&exists,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.Stock,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning cart row: %w", err)
		}

		if exists {
			product.ID = item.ProductID
			item.Product = &product
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("cart rows: %w", err)
	}

	span.SetAttributes(attribute.Int("lines", len(cart.Items)))

	return cart, nil
}

func (r *cartRepo) GetQuantity(ctx context.Context, userID, productID int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.GetQuantity")
	defer span.End()

	query := `
		SELECT quantity
		FROM cart_items
		WHERE user_id = $1 AND product_id = $2;
	`

	var quantity int64
	if err := r.pool.QueryRow(ctx, query, userID, productID).Scan(&quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}

		span.RecordError(err)
		return 0, fmt.Errorf("error reading cart quantity: %w", err)
	}

	return quantity, nil
}

// AddItem inserts the line or increments an existing one and returns the
// resulting quantity.
func (r *cartRepo) AddItem(ctx context.Context, userID, productID, quantity int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.AddItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING quantity;
	`

	var total int64
	if err := r.pool.QueryRow(ctx, query, userID, productID, quantity).Scan(&total); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to add cart item",
			zap.Int64("user_id", userID),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)

		return 0, fmt.Errorf("error adding cart item: %w", err)
	}

	return total, nil
}

func (r *cartRepo) SetQuantity(ctx context.Context, userID, productID, quantity int64) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.SetQuantity")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW();
	`

	if _, err := r.pool.Exec(ctx, query, userID, productID, quantity); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to set cart quantity",
			zap.Int64("user_id", userID),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)

		return fmt.Errorf("error updating cart item: %w", err)
	}

	return nil
}

func (r *cartRepo) RemoveItem(ctx context.Context, userID, productID int64) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.RemoveItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
	)

	query := `
		DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2;
	`

	commandTag, err := r.pool.Exec(ctx, query, userID, productID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("error removing cart item: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *cartRepo) Clear(ctx context.Context, q db.Querier, userID int64) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.Clear")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	query := `
		DELETE FROM cart_items
		WHERE user_id = $1;
	`

	commandTag, err := q.Exec(ctx, query, userID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to clear cart",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)

		return fmt.Errorf("error clearing cart: %w", err)
	}

	span.SetAttributes(attribute.Int64("removed", commandTag.RowsAffected()))

	return nil
}

// LockItems reads the user's cart lines FOR UPDATE, ordered by product id.
// A concurrent checkout of the same cart blocks here until the first one
// commits and then sees the drained cart.
func (r *cartRepo) LockItems(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.CartItem, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.LockItems")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	query := `
		SELECT product_id, quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY product_id
		FOR UPDATE;
	`

	rows, err := tx.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error locking cart: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning locked cart row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("locked cart rows: %w", err)
	}

	return items, nil
}

// RemoveLines deletes only the given products from the cart and reports how
// many rows went away.
func (r *cartRepo) RemoveLines(ctx context.Context, q db.Querier, userID int64, productIDs []int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.RemoveLines")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("lines", len(productIDs)),
	)

	query := `
		DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = ANY($2);
	`

	commandTag, err := q.Exec(ctx, query, userID, productIDs)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to remove ordered cart lines",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)

		return 0, fmt.Errorf("error removing cart lines: %w", err)
	}

	return commandTag.RowsAffected(), nil
}
